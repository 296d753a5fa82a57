// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider transcribes one recorded voice clip at a time. Voice
// commands arrive as complete clips (the client records, then sends), so the
// interface is batch rather than streaming.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Clip is one recorded audio clip to transcribe.
type Clip struct {
	// Data is the encoded audio.
	Data []byte

	// MIME identifies the audio container (e.g., "audio/webm", "audio/wav").
	// Empty is treated as "audio/webm", the common browser recording format.
	MIME string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the clip to text. Returns an error if the clip is
	// empty, the MIME type is unsupported, or the backend cannot be reached
	// before ctx is cancelled.
	Transcribe(ctx context.Context, clip Clip) (string, error)
}
