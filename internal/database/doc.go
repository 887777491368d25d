// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 CampusFlow 的关系型数据库连接并管理连接池。

# 概述

Open 按驱动名（postgres、mysql、sqlite）选择 GORM 方言，建立连接后
交给 PoolManager 托管。任务账本与 Agent 注册表的 GORM 存储都从这里
取得 *gorm.DB。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Check()、Close()。后台健康检查定时探活，并通过 OnStats 回调
    导出连接数。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与
    健康检查间隔。零值保留驱动默认。
  - QueryObserver：Instrument 挂载到 GORM 回调链上的耗时观测函数，
    用于记录 db_query_duration_seconds。
*/
package database
