// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CampusFlow 服务端程序入口。

# 概述

cmd/campusflow 是 CampusFlow 的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序从 YAML 与 CAMPUSFLOW_
环境变量加载配置，使用 zap 输出结构化日志，并在独立端口暴露
Prometheus 指标。

# 核心类型

  - Server          — 主服务器，按依赖顺序装配存储、网关、编排器与 HTTP 监听
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder  — 包装 http.ResponseWriter 以捕获状态码与响应大小

# 主要能力

  - 子命令：serve（--migrate 可在启动前执行迁移）、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、RateLimiter（基于 IP）、JWTAuth
  - 配置热更新：日志级别与治理规则无需重启即可生效
  - 优雅关闭：停止热更新 → 关闭 HTTP → 关闭 Metrics → 排空编排器 → 释放存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
