// Package tokenizer 提供统一的 Token 计数接口，
// 在 Provider 未返回用量时用于估算任务消耗的 Token 数。
package tokenizer
