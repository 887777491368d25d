// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 CampusFlow 的 HTTP 监听生命周期，API 与 metrics
各用一个 Manager。

# 概述

Manager 封装 net/http.Server：Start 非阻塞监听，配置证书时以
tlsutil.ServerTLSConfig 提供 HTTPS；Shutdown 在 ShutdownTimeout 内
排空请求。WaitForSignal 阻塞到 SIGINT/SIGTERM、ctx 结束或任一
Manager 异常退出，由调用方决定关闭顺序。

# 核心类型

  - Manager：Start/Shutdown/Errors/Addr/IsRunning。
  - Config：名称、监听地址、读写与空闲超时、请求头上限、
    关闭超时与 TLS 证书路径。
*/
package server
