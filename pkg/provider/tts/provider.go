// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the OpenAI audio API)
// and renders narration text into a single encoded audio clip. Clips are
// returned base64-encoded so they can be embedded directly in JSON protocol
// messages without a separate binary channel.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects the speaking voice and delivery for a synthesis request.
type Voice struct {
	// Name is the provider-specific voice identifier (e.g., "alloy").
	// Empty selects the provider's default voice.
	Name string

	// Speed adjusts the speaking rate (0.25–4.0). Zero selects the
	// provider's default rate.
	Speed float64

	// Format is the audio container to render (e.g., "mp3"). Empty selects
	// the provider's default format.
	Format string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., narration for several sessions at once).
type Provider interface {
	// SynthesizeBase64 renders text as speech and returns the encoded audio
	// as a base64 string. The text is synthesised in full before returning;
	// callers that want to overlap synthesis with other work should invoke
	// this from their own goroutine.
	//
	// Returns an error if the voice is unavailable, the text is empty, or
	// the backend cannot be reached before ctx is cancelled.
	SynthesizeBase64(ctx context.Context, text string, voice Voice) (string, error)
}
