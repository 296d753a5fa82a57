// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled audio payload and to verify the text
// and Voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{SynthesizeResult: "bW9jayBhdWRpbw=="}
//	audio, _ := p.SynthesizeBase64(ctx, "You enter the hall.", tts.Voice{Name: "alloy"})
package mock

import (
	"context"
	"sync"

	"github.com/fableloom/fableloom/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeBase64.
type SynthesizeCall struct {
	// Ctx is the context passed to SynthesizeBase64.
	Ctx context.Context
	// Text is the narration text passed to SynthesizeBase64.
	Text string
	// Voice is the Voice passed to SynthesizeBase64.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is the base64 string returned by SynthesizeBase64.
	SynthesizeResult string

	// SynthesizeQueue, if non-empty, is consumed one element per call before
	// falling back to SynthesizeResult. Useful when a test issues several
	// synthesis requests that must differ.
	SynthesizeQueue []string

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeBase64.
	SynthesizeErr error

	// --- Call records ---

	// SynthesizeCalls records every call to SynthesizeBase64 in order.
	SynthesizeCalls []SynthesizeCall

	queueIdx int
}

// SynthesizeBase64 records the call and returns the configured result.
func (p *Provider) SynthesizeBase64(ctx context.Context, text string, voice tts.Voice) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return "", p.SynthesizeErr
	}
	if p.queueIdx < len(p.SynthesizeQueue) {
		result := p.SynthesizeQueue[p.queueIdx]
		p.queueIdx++
		return result, nil
	}
	return p.SynthesizeResult, nil
}

// Reset clears all recorded calls and rewinds the queue. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.queueIdx = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
