package llm

import "strings"

// Price 每千 token 的美元价格
type Price struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// PriceTable 按模型名（或模型名前缀）索引的价格表
type PriceTable map[string]Price

// Lookup 精确匹配优先，其次取最长前缀
func (t PriceTable) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var best Price
	bestLen := 0
	for prefix, p := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best, bestLen > 0
}

// Cost 估算一次调用的费用。Provider 已给出费用时直接使用；
// 只有总量时按补全价计；未知模型费用为 0。
func (t PriceTable) Cost(model string, usage ChatUsage) float64 {
	if usage.Cost > 0 {
		return usage.Cost
	}
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return float64(usage.TotalTokens) / 1000 * p.CompletionPer1K
	}
	return float64(usage.PromptTokens)/1000*p.PromptPer1K +
		float64(usage.CompletionTokens)/1000*p.CompletionPer1K
}
