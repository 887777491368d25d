// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
JSON 序列化与有界列表。

# 概述

本包封装 go-redis 客户端，为上层业务提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭，
并通过 Client 将连接池共享给 Redis 任务存储。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete 基础操作、
    GetJSON/SetJSON 序列化方法，以及 PushJSON/RangeJSON 有界列表。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL 与健康检查间隔。

# 主要能力

  - 用户上下文：memory.RedisContextProvider 使用有界列表保存最近交互。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 错误语义：提供 ErrCacheMiss / ErrClosed 哨兵错误。
*/
package cache
