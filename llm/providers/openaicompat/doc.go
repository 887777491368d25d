// Package openaicompat implements llm.Provider for any backend that speaks the
// OpenAI Chat Completions format.
//
// OpenAI, DeepSeek, Qwen, GLM and Kimi differ only in base URL, default model
// and occasionally headers, so one Provider configured per backend covers them:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       cfg.APIKey,
//	    DefaultModel: "deepseek-chat",
//	}, logger)
//
// An empty BaseURL falls back to providers.DefaultBaseURLs.
package openaicompat
