// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return a controlled transcript and to verify the Clip
// passed to the STT backend.
package mock

import (
	"context"
	"sync"

	"github.com/fableloom/fableloom/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is a copy of the clip passed to Transcribe.
	Clip stt.Clip
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResult is the transcript returned by Transcribe.
	TranscribeResult string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, clip stt.Clip) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dataCopy := make([]byte, len(clip.Data))
	copy(dataCopy, clip.Data)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{
		Ctx:  ctx,
		Clip: stt.Clip{Data: dataCopy, MIME: clip.MIME},
	})
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	return p.TranscribeResult, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
