package resilience

import (
	"context"

	"github.com/fableloom/fableloom/pkg/provider/music"
)

// MusicFallback implements [music.Provider] with automatic failover across
// multiple music backends. Each backend has its own circuit breaker.
type MusicFallback struct {
	group *FallbackGroup[music.Provider]
}

// Compile-time interface assertion.
var _ music.Provider = (*MusicFallback)(nil)

// NewMusicFallback creates a [MusicFallback] with primary as the preferred
// backend.
func NewMusicFallback(primary music.Provider, primaryName string, cfg FallbackConfig) *MusicFallback {
	return &MusicFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional music provider as a fallback.
func (f *MusicFallback) AddFallback(name string, provider music.Provider) {
	f.group.AddFallback(name, provider)
}

// Chain returns the backend names in try order, primary first.
func (f *MusicFallback) Chain() []string {
	return f.group.Names()
}

// Available reports true when any backend in the chain reports available.
// Circuit breaker state is not consulted here: availability is static
// configuration, breaker state is transient health.
func (f *MusicFallback) Available() bool {
	for i := range f.group.chain {
		if f.group.chain[i].provider.Available() {
			return true
		}
	}
	return false
}

// Generate renders a track through the first healthy available provider.
// Unavailable backends fail fast with [music.ErrNotAvailable] and the chain
// moves on; a permanently unavailable entry opens its breaker, which is fine.
func (f *MusicFallback) Generate(ctx context.Context, req music.TrackRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p music.Provider) (string, error) {
		if !p.Available() {
			return "", music.ErrNotAvailable
		}
		return p.Generate(ctx, req)
	})
}
