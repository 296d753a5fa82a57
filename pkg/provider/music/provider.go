// Package music defines the Provider interface for background music backends.
//
// A music provider turns a mood and a short scene context into a looping
// ambient track. Tracks are returned base64-encoded so they can travel inside
// JSON protocol messages and be written to the media cache without
// re-encoding.
//
// Music generation is optional: deployments without a generation backend
// simply run without background music. Callers must consult Available before
// planning any track.
package music

import (
	"context"
	"errors"
)

// ErrNotAvailable is returned by Generate when the backend reports
// unavailable. Callers that consult Available first never see it.
var ErrNotAvailable = errors.New("music: backend not available")

// TrackRequest describes one background track to generate.
type TrackRequest struct {
	// Mood is the planner-detected scene mood (e.g., "combat", "peaceful").
	Mood string

	// Context is a short free-text hint about the scene, appended to the
	// generation prompt when present. Optional.
	Context string

	// GameID and LocationID attribute the request to a game and scene for
	// logging. Optional.
	GameID     string
	LocationID string
}

// Provider is the abstraction over any music generation backend.
type Provider interface {
	// Available reports whether the backend is configured and able to accept
	// generation requests. Callers must skip music planning entirely when it
	// returns false.
	Available() bool

	// Generate renders a track for the requested mood and returns the audio
	// as a base64-encoded string. Generation is synchronous and can take
	// minutes on CPU-only backends; callers run it from a worker pool.
	Generate(ctx context.Context, req TrackRequest) (string, error)
}
