// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供任务生命周期、Agent 定义与性能快照的持久化存储。

# 概述

每次任务执行都会在账本中留下一条记录：先以 pending 写入，进入流水线后
转为 running，最后以 completed、failed、blocked、cancelled 之一终结。
终态字段在一次写入中落盘，已终结的任务不可再次变更。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - TaskStore: 任务存储接口，支持创建、查询、按条件列出与终结。
  - Ledger: 建立在 TaskStore 之上的任务账本，负责状态流转校验、
    时间戳，以及重启后把遗留任务以 INTERRUPTED 错误标记为 failed。

# 核心模型

  - Task: 任务记录，包含 Agent、任务类型、调用者、输入输出、置信度、
    延迟、Token 用量、成本与策略元数据。
  - TaskFilter: 按 Agent、调用者、状态与创建时间筛选，结果按创建时间倒序。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - Redis: 基于 Sorted Set 索引，适合多实例共享同一账本。
  - Database: 基于 gorm，支持 postgres、mysql 与 sqlite，用于审计留存；
    GormAgentStore 同时保存 Agent 定义与性能快照。

# 使用方式

	store, err := persistence.NewTaskStore(config, db)
	ledger := persistence.NewLedger(store, logger)
	recovered, err := ledger.RecoverInterrupted(ctx)
*/
package persistence
