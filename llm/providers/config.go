package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// 已知 OpenAI 兼容服务的默认地址
var DefaultBaseURLs = map[string]string{
	"openai":   "https://api.openai.com",
	"deepseek": "https://api.deepseek.com",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode",
	"glm":      "https://open.bigmodel.cn/api/paas/v4",
	"kimi":     "https://api.moonshot.cn",
}
