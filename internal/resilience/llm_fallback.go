package resilience

import (
	"context"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] over a [FallbackGroup] of models. The
// summary and action-item engines see a single model; a summary still gets
// written when the preferred one is down.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback chain that prefers primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a model to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports every model's breaker.
func (f *LLMFallback) Status() []BreakerStatus { return f.group.Status() }

// Complete implements llm.Provider. Responses that do not name their model
// are labelled with the chain entry that produced them.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, served, err := executeNamed(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Model == "" {
		resp.Model = served
	}
	return resp, nil
}

// CountTokens implements llm.Provider.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary model; the prompt budget is sized for it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
