// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package orchestrator 把一次 Agent 调用编排为带审计记录的有序流水线。

# 概述

[Orchestrator.Execute] 依次执行：

	用户上下文 → 创建任务 → 治理网关 → 提示词组装 → 模型调用
	→ 对齐网关 → 后台记忆写回 → 任务完成 → 性能统计 → 结果信封

每个协作方调用都有独立超时。任务记录经历
pending → running → {completed, failed, blocked, cancelled}，
终态写入与调用方取消解耦，保证任务一定落到终态。

# 结果与错误

可预期的结局（被治理拦截、模型失败、调用方取消）返回
Success=false 的 [Result] 与 nil error；Agent 不存在、输入非法、
任务账本写入失败返回 *types.Error。

# 网关失效策略

治理网关不可用时默认拒绝执行（fail-closed），可通过
[Config.GovernanceFailOpen] 放行并附加 governance_unchecked 警告；
对齐网关不可用时总是放行，输出标记为 unchecked。

# 核心类型

  - [Orchestrator]：组合根，持有 Registry、Ledger、Aggregator 与 ModelInvoker
  - [Request] / [Result]：调用参数与结果信封
  - [Options]：按请求开关记忆、治理与对齐
  - [Recorder]：执行指标接口，由 metrics.Collector 实现
*/
package orchestrator
