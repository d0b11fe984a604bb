// Package mock provides a test double for the stt.Provider interface.
//
// Set FileResult and ChunkResult to control what the provider returns, or
// ChunkFunc when a test needs per-call behaviour such as delays that make
// results complete out of order. Every call is recorded.
//
// Example:
//
//	p := &mock.Provider{FileResult: stt.Result{Text: "hello world"}}
//	res := p.TranscribeFile(ctx, "/tmp/meeting.wav")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// FileResult is returned by TranscribeFile.
	FileResult stt.Result

	// ChunkResult is returned by TranscribeChunk unless ChunkFunc is set.
	ChunkResult stt.Result

	// ChunkFunc, if non-nil, computes the TranscribeChunk result. call is the
	// zero-based index of the invocation.
	ChunkFunc func(ctx context.Context, sig audio.Signal, call int) stt.Result

	// FileCalls records the path of every TranscribeFile call.
	FileCalls []string

	// ChunkCalls records the signal of every TranscribeChunk call.
	ChunkCalls []audio.Signal
}

var _ stt.Provider = (*Provider)(nil)

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// TranscribeFile records the call and returns FileResult.
func (p *Provider) TranscribeFile(_ context.Context, path string) stt.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FileCalls = append(p.FileCalls, path)
	r := p.FileResult
	if r.Backend == "" {
		r.Backend = p.nameLocked()
	}
	return r
}

// TranscribeChunk records the call and returns ChunkResult or the result of
// ChunkFunc. ChunkFunc runs without the lock held.
func (p *Provider) TranscribeChunk(ctx context.Context, sig audio.Signal) stt.Result {
	p.mu.Lock()
	call := len(p.ChunkCalls)
	p.ChunkCalls = append(p.ChunkCalls, sig)
	fn := p.ChunkFunc
	r := p.ChunkResult
	name := p.nameLocked()
	p.mu.Unlock()

	if fn != nil {
		r = fn(ctx, sig, call)
	}
	if r.Backend == "" {
		r.Backend = name
	}
	return r
}

// FileCallCount returns the number of TranscribeFile calls.
func (p *Provider) FileCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.FileCalls)
}

// ChunkCallCount returns the number of TranscribeChunk calls.
func (p *Provider) ChunkCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ChunkCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FileCalls = nil
	p.ChunkCalls = nil
}

func (p *Provider) nameLocked() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Local is a mock local transcriber that additionally reports availability.
type Local struct {
	Provider

	// Unavailable makes Available return false.
	Unavailable bool
}

// Available reports !Unavailable.
func (l *Local) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.Unavailable
}
