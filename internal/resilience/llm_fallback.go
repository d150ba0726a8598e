package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/waketurn/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across language models.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete implements [llm.Provider]. A nil response without an error
// counts as a failure of that backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil && resp == nil {
			return nil, errors.New("empty response")
		}
		return resp, err
	})
}
