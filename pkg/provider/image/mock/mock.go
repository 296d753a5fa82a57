// Package mock provides a test double for the image.Provider interface.
//
// Use Provider to return a controlled base64 payload and to verify the
// SceneRequest passed to the backend.
package mock

import (
	"context"
	"sync"

	"github.com/fableloom/fableloom/pkg/provider/image"
)

// GenerateSceneCall records a single invocation of GenerateScene.
type GenerateSceneCall struct {
	// Ctx is the context passed to GenerateScene.
	Ctx context.Context
	// Req is the SceneRequest passed to GenerateScene.
	Req image.SceneRequest
}

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateResult is the base64 string returned by GenerateScene.
	GenerateResult string

	// GenerateQueue, if non-empty, is consumed one element per call before
	// falling back to GenerateResult.
	GenerateQueue []string

	// GenerateErr, if non-nil, is returned as the error from GenerateScene.
	GenerateErr error

	// --- Call records ---

	// GenerateSceneCalls records every call to GenerateScene in order.
	GenerateSceneCalls []GenerateSceneCall

	queueIdx int
}

// GenerateScene records the call and returns the configured result.
func (p *Provider) GenerateScene(ctx context.Context, req image.SceneRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateSceneCalls = append(p.GenerateSceneCalls, GenerateSceneCall{Ctx: ctx, Req: req})
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
	p.GenerateSceneCalls = nil
	p.queueIdx = 0
}

// Ensure Provider implements image.Provider at compile time.
var _ image.Provider = (*Provider)(nil)
