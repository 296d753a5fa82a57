package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/observe"
	"github.com/fableloom/fableloom/pkg/provider/image"
	"github.com/fableloom/fableloom/pkg/provider/music"
)

// ErrUnavailable reports that the requested media kind has no configured or
// reachable provider. Callers treat it as "no media this turn", not as a
// command failure.
var ErrUnavailable = errors.New("media: provider unavailable")

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithImageProvider attaches the scene illustration backend. name feeds the
// cache key, so artifacts from different providers never collide.
func WithImageProvider(p image.Provider, name string) ServiceOption {
	return func(s *Service) {
		s.images = p
		if name != "" {
			s.imageName = name
		}
	}
}

// WithMusicProvider attaches the background music backend. name feeds the
// cache key.
func WithMusicProvider(p music.Provider, name string) ServiceOption {
	return func(s *Service) {
		s.music = p
		if name != "" {
			s.musicName = name
		}
	}
}

// WithServiceLogger sets the structured logger. The default is [slog.Default].
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceMetrics attaches instrumentation for cache lookups and
// generation latency. Without it the service records nothing.
func WithServiceMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		s.met = m
	}
}

// Service plans, generates and caches scene media. It satisfies the engine's
// media interface: lookups are cache-first by content address, and cache
// write failures degrade to uncached generation instead of failing the turn.
type Service struct {
	cache     *Cache
	images    image.Provider
	imageName string
	music     music.Provider
	musicName string
	log       *slog.Logger
	met       *observe.Metrics
}

var _ game.MediaService = (*Service)(nil)

// NewService returns a Service over the given cache. Providers are attached
// via options; a Service without an image or music provider reports
// [ErrUnavailable] for that kind.
func NewService(cache *Cache, opts ...ServiceOption) *Service {
	s := &Service{
		cache:     cache,
		imageName: "image",
		musicName: "music",
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// imagePlan derives the illustration subject for a turn. The scene's own
// image description is preferred; free narration is distilled through
// [ExtractSceneDescription] when the turn carried no structured scene.
func imagePlan(scene *game.GameScene, narration string) (base, locationID string) {
	if scene != nil {
		base = scene.ImageDescription
		locationID = scene.LocationID
	}
	if base == "" {
		base = ExtractSceneDescription(narration)
	}
	return base, locationID
}

// musicPlan derives the mood and track context for a turn. The scene's
// declared mood wins; otherwise the mood is detected from the narration.
func musicPlan(scene *game.GameScene, narration string) (mood game.Mood, trackContext, locationID string) {
	if scene != nil {
		mood = scene.MusicMood
		trackContext = scene.MusicDescription
		locationID = scene.LocationID
	}
	if !mood.IsValid() {
		mood = DetectMood(narration)
	}
	if trackContext == "" {
		trackContext = ExtractSceneDescription(narration)
	}
	return mood, trackContext, locationID
}

// SceneImage returns an illustration for the turn, generating one on a cache
// miss.
func (s *Service) SceneImage(ctx context.Context, gameID, artStyle string, scene *game.GameScene, narration string) (*game.MediaArtifact, error) {
	if s.images == nil {
		return nil, fmt.Errorf("media: image: %w", ErrUnavailable)
	}

	base, locationID := imagePlan(scene, narration)
	if base == "" {
		return nil, fmt.Errorf("media: image: nothing to illustrate")
	}

	key := Key(s.imageName, artStyle, base)
	if b64, entry, ok := s.cache.Get(gameID, KindImage, key); ok {
		s.recordLookup(ctx, "image", true)
		s.log.Debug("scene image served from cache", "game_id", gameID, "key", key)
		return &game.MediaArtifact{B64: b64, Path: entry.FilePath, Description: entry.Description}, nil
	}
	s.recordLookup(ctx, "image", false)

	prompt := StyledImagePrompt(artStyle, base, artStyle)
	start := time.Now()
	b64, err := s.images.GenerateScene(ctx, image.SceneRequest{
		Prompt:     prompt,
		Style:      artStyle,
		GameID:     gameID,
		LocationID: locationID,
	})
	s.recordGeneration(ctx, "image", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("media: image generation: %w", err)
	}

	art := &game.MediaArtifact{B64: b64, Description: base}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("media: image provider returned invalid base64: %w", err)
	}
	entry, err := s.cache.Put(gameID, KindImage, key, data, base)
	if err != nil {
		s.log.Warn("scene image not cached", "game_id", gameID, "key", key, "error", err)
		return art, nil
	}
	art.Path = entry.FilePath
	return art, nil
}

// CachedSceneImage serves an illustration from the cache alone. It reports
// false on a miss instead of generating, which lets re-requests for old turns
// stay cheap.
func (s *Service) CachedSceneImage(ctx context.Context, gameID, artStyle string, scene *game.GameScene, narration string) (*game.MediaArtifact, bool) {
	base, _ := imagePlan(scene, narration)
	if base == "" {
		return nil, false
	}
	key := Key(s.imageName, artStyle, base)
	b64, entry, ok := s.cache.Get(gameID, KindImage, key)
	s.recordLookup(ctx, "image", ok)
	if !ok {
		return nil, false
	}
	return &game.MediaArtifact{B64: b64, Path: entry.FilePath, Description: entry.Description}, true
}

// BackgroundMusic returns a looping track for the turn's mood, generating one
// on a cache miss.
func (s *Service) BackgroundMusic(ctx context.Context, gameID string, scene *game.GameScene, narration string) (*game.MediaArtifact, error) {
	if s.music == nil || !s.music.Available() {
		return nil, fmt.Errorf("media: music: %w", ErrUnavailable)
	}

	mood, trackContext, locationID := musicPlan(scene, narration)

	key := Key(s.musicName, string(mood), trackContext)
	if b64, entry, ok := s.cache.Get(gameID, KindMusic, key); ok {
		s.recordLookup(ctx, "music", true)
		s.log.Debug("background music served from cache", "game_id", gameID, "key", key)
		return &game.MediaArtifact{B64: b64, Path: entry.FilePath, Description: entry.Description, Mood: mood}, nil
	}
	s.recordLookup(ctx, "music", false)

	start := time.Now()
	b64, err := s.music.Generate(ctx, music.TrackRequest{
		Mood:       string(mood),
		Context:    trackContext,
		GameID:     gameID,
		LocationID: locationID,
	})
	s.recordGeneration(ctx, "music", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("media: music generation: %w", err)
	}

	art := &game.MediaArtifact{B64: b64, Description: trackContext, Mood: mood}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("media: music provider returned invalid base64: %w", err)
	}
	entry, err := s.cache.Put(gameID, KindMusic, key, data, trackContext)
	if err != nil {
		s.log.Warn("background music not cached", "game_id", gameID, "key", key, "error", err)
		return art, nil
	}
	art.Path = entry.FilePath
	return art, nil
}

// CachedBackgroundMusic serves a track from the cache alone, reporting false
// on a miss.
func (s *Service) CachedBackgroundMusic(ctx context.Context, gameID string, scene *game.GameScene, narration string) (*game.MediaArtifact, bool) {
	mood, trackContext, _ := musicPlan(scene, narration)
	key := Key(s.musicName, string(mood), trackContext)
	b64, entry, ok := s.cache.Get(gameID, KindMusic, key)
	s.recordLookup(ctx, "music", ok)
	if !ok {
		return nil, false
	}
	return &game.MediaArtifact{B64: b64, Path: entry.FilePath, Description: entry.Description, Mood: mood}, true
}

func (s *Service) recordLookup(ctx context.Context, kind string, hit bool) {
	if s.met != nil {
		s.met.RecordCacheLookup(ctx, kind, hit)
	}
}

func (s *Service) recordGeneration(ctx context.Context, kind string, err error, elapsed time.Duration) {
	if s.met == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.met.RecordMediaGeneration(ctx, kind, status, elapsed.Seconds())
}
