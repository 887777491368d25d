package guardrails

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ValidatorChain 并行执行一组验证器并合并结果
type ValidatorChain struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewValidatorChain 创建验证器链
func NewValidatorChain(validators ...Validator) *ValidatorChain {
	return &ValidatorChain{validators: append([]Validator(nil), validators...)}
}

// Add 添加验证器到链中
func (c *ValidatorChain) Add(validators ...Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators = append(c.validators, validators...)
}

// Len 返回验证器数量
func (c *ValidatorChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.validators)
}

// Validate 并行执行全部验证器。
// 任一验证器出错或上下文结束时返回错误，不返回部分结果。
func (c *ValidatorChain) Validate(ctx context.Context, content string) (*ValidationResult, error) {
	c.mu.RLock()
	validators := append([]Validator(nil), c.validators...)
	c.mu.RUnlock()

	results := make([]*ValidationResult, len(validators))
	g, gctx := errgroup.WithContext(ctx)

	for i, v := range validators {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := v.Validate(gctx, content)
			if err != nil {
				return fmt.Errorf("validator %s: %w", v.Name(), err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 按注册顺序合并，保证错误顺序稳定
	merged := NewValidationResult()
	executed := make([]string, 0, len(validators))
	for i, r := range results {
		merged.Merge(r)
		executed = append(executed, validators[i].Name())
	}
	merged.Metadata["validators_executed"] = executed

	return merged, nil
}
