// Package image defines the Provider interface for scene illustration backends.
//
// An image provider turns a styled scene description into a single rendered
// picture. Images are returned base64-encoded so they can travel inside JSON
// protocol messages and be written to the media cache without re-encoding.
//
// Implementations must be safe for concurrent use.
package image

import "context"

// SceneRequest describes one scene illustration to generate.
type SceneRequest struct {
	// Prompt is the full styled prompt, already assembled by the media
	// planner (art style prefix plus scene description).
	Prompt string

	// Style is the art style tag the prompt was built with (e.g., "pixel").
	// Providers may use it to pick model-specific tuning; it is also carried
	// into logs.
	Style string

	// GameID and LocationID attribute the request to a game and scene for
	// logging and provider-side content tracking. Optional.
	GameID     string
	LocationID string
}

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// GenerateScene renders the requested scene and returns the image as a
	// base64-encoded PNG. Generation is synchronous and can take tens of
	// seconds; callers run it from a worker pool.
	GenerateScene(ctx context.Context, req SceneRequest) (string, error)
}
