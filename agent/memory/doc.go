// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 为智能体任务提供按用户划分的上下文记忆。

# 概述

编排器在执行任务前通过 [ContextProvider] 获取用户上下文，
任务完成后在后台把本次交互写回。获取失败不会阻断任务，
只会以空上下文继续并在任务元数据中留下告警。

# 核心类型

  - [ContextProvider]：Fetch / Log 两个操作的上下文来源接口
  - [Bundle]：用户画像与最近交互组成的上下文包
  - [Interaction]：一次已完成任务的记忆条目

# 实现

  - [RedisContextProvider]：基于 internal/cache 的有界列表，最新在前
  - [InMemoryContextProvider]：进程内实现，适合开发与测试
  - [CachedContextProvider]：带过期时间的 LRU 装饰器，Log 时失效对应用户
*/
package memory
