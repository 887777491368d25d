// Package tlsutil 提供集中式 TLS 配置：模型 Provider 与远程网关的 HTTP 客户端、
// Redis 连接以及 HTTPS 监听统一使用 TLS 1.2+ 与 AEAD 密码套件。
package tlsutil
