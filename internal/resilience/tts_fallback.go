package resilience

import (
	"context"

	"github.com/fableloom/fableloom/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Chain returns the backend names in try order, primary first.
func (f *TTSFallback) Chain() []string {
	return f.group.Names()
}

// SynthesizeBase64 renders the text through the first healthy provider. Note
// that fallback voices may sound different from the primary's; callers accept
// a voice change over losing narration audio entirely.
func (f *TTSFallback) SynthesizeBase64(ctx context.Context, text string, voice tts.Voice) (string, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (string, error) {
		return p.SynthesizeBase64(ctx, text, voice)
	})
}
