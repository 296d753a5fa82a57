package resilience

import (
	"context"

	"github.com/fableloom/fableloom/pkg/provider/image"
)

// ImageFallback implements [image.Provider] with automatic failover across
// multiple image backends. Each backend has its own circuit breaker.
type ImageFallback struct {
	group *FallbackGroup[image.Provider]
}

// Compile-time interface assertion.
var _ image.Provider = (*ImageFallback)(nil)

// NewImageFallback creates an [ImageFallback] with primary as the preferred
// backend.
func NewImageFallback(primary image.Provider, primaryName string, cfg FallbackConfig) *ImageFallback {
	return &ImageFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional image provider as a fallback.
func (f *ImageFallback) AddFallback(name string, provider image.Provider) {
	f.group.AddFallback(name, provider)
}

// Chain returns the backend names in try order, primary first.
func (f *ImageFallback) Chain() []string {
	return f.group.Names()
}

// GenerateScene renders the scene through the first healthy provider. The
// media cache keys on the configured provider label, not on whichever backend
// actually rendered, so a failover can serve a slightly different style under
// the same cache key. Acceptable: the alternative is no image at all.
func (f *ImageFallback) GenerateScene(ctx context.Context, req image.SceneRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p image.Provider) (string, error) {
		return p.GenerateScene(ctx, req)
	})
}
