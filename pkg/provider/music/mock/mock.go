// Package mock provides a test double for the music.Provider interface.
//
// Use Provider to return a controlled base64 payload, to toggle availability,
// and to verify the TrackRequest passed to the backend.
package mock

import (
	"context"
	"sync"

	"github.com/fableloom/fableloom/pkg/provider/music"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the TrackRequest passed to Generate.
	Req music.TrackRequest
}

// Provider is a mock implementation of music.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AvailableResult is returned by Available. Zero value means unavailable,
	// so tests that exercise generation must set it explicitly.
	AvailableResult bool

	// GenerateResult is the base64 string returned by Generate.
	GenerateResult string

	// GenerateQueue, if non-empty, is consumed one element per call before
	// falling back to GenerateResult.
	GenerateQueue []string

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// --- Call records ---

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall

	queueIdx int
}

// Available returns AvailableResult.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AvailableResult
}

// Generate records the call and returns the configured result.
func (p *Provider) Generate(ctx context.Context, req music.TrackRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		return "", p.GenerateErr
	}
	if p.queueIdx < len(p.GenerateQueue) {
		result := p.GenerateQueue[p.queueIdx]
		p.queueIdx++
		return result, nil
	}
	return p.GenerateResult, nil
}

// Reset clears all recorded calls and rewinds the queue. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
	p.queueIdx = 0
}

// Ensure Provider implements music.Provider at compile time.
var _ music.Provider = (*Provider)(nil)
