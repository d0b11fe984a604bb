// Package mock is an in-memory llm.Provider for engine tests. Set the reply
// fields before use and read the call log afterwards.
//
//	model := &mock.Provider{
//		CompleteResponse: &llm.CompletionResponse{Content: `{"summary": "shipped"}`},
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall is one recorded CountTokens invocation.
type CountTokensCall struct {
	Messages []llm.Message
}

// Provider replays canned answers. The zero value answers every completion
// with (nil, nil).
type Provider struct {
	mu sync.Mutex

	// CompleteFunc overrides CompleteResponse and CompleteErr. It runs
	// without the lock held and may block.
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: slices.Clone(messages)})
	return p.TokenCount, p.CountTokensErr
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded completions.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}

// Reset forgets every recorded call.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls, p.CountTokensCalls, p.CapabilitiesCallCount = nil, nil, 0
}
