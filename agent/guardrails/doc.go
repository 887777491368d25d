// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 guardrails 提供任务执行前后的两道策略网关。

# 概述

治理网关在模型调用前裁决任务是否允许执行；对齐网关在模型调用后
评估输出。两者都可以是本地规则实现，也可以是远程 HTTP 服务。
网关无法给出结论时返回包装了 [ErrGateUnavailable] 的错误，
由调用方决定放行还是拦截。

# 核心接口

  - [GovernanceGate]：Check(entityType, entityID, action, actorID, attrs) 返回 [PolicyDecision]
  - [AlignmentGate]：Check(content, attrs) 返回 [AlignmentResult]
  - [Validator]：单项内容校验器

# 实现

  - [RuleGovernanceGate]：禁止动作、禁止调用者、按调用者令牌桶限流
  - [ContentAlignmentGate]：长度、PII、关键词与偏见词并行校验，按 safety / bias / appropriateness 评分
  - [RemoteGovernanceGate] / [RemoteAlignmentGate]：JSON over HTTP，带超时
*/
package guardrails
