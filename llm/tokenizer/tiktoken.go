package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 使用 tiktoken 为 OpenAI 系列模型精确计数.
// 编码表在首次使用时加载，可能需要下载数据；加载失败时 CountTokens 返回错误.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型名前缀映射到 tiktoken 编码.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// EncodingForModel 返回模型对应的编码，未知模型使用 cl100k_base.
func EncodingForModel(model string) string {
	best, bestLen := "cl100k_base", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	return &TiktokenTokenizer{encoding: EncodingForModel(model)}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// RegisterOpenAITokenizers 为已知的 OpenAI 模型前缀注册 tiktoken 分词器.
func RegisterOpenAITokenizers() {
	for prefix := range modelEncodings {
		RegisterTokenizer(prefix, NewTiktokenTokenizer(prefix))
	}
}
