// Package app wires the Fableloom subsystems into a running server.
//
// New connects everything once: the step journal, the media cache and worker
// pool, the shared tool-server connections, the session manager, and the
// WebSocket gateway, all mounted on one HTTP mux alongside the health probes
// and the Prometheus endpoint. Run serves that mux until the context is
// cancelled; Shutdown tears the subsystems down in reverse order.
//
// Providers come in from main through the [Providers] struct so the package
// never reads credentials itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fableloom/fableloom/internal/agent"
	"github.com/fableloom/fableloom/internal/config"
	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/health"
	"github.com/fableloom/fableloom/internal/media"
	"github.com/fableloom/fableloom/internal/observe"
	"github.com/fableloom/fableloom/internal/session"
	"github.com/fableloom/fableloom/internal/steps"
	"github.com/fableloom/fableloom/internal/tools"
	"github.com/fableloom/fableloom/internal/tools/inventory"
	"github.com/fableloom/fableloom/internal/vocab"
	"github.com/fableloom/fableloom/internal/ws"
	"github.com/fableloom/fableloom/pkg/provider/image"
	"github.com/fableloom/fableloom/pkg/provider/llm"
	"github.com/fableloom/fableloom/pkg/provider/music"
	"github.com/fableloom/fableloom/pkg/provider/stt"
	"github.com/fableloom/fableloom/pkg/provider/tts"
)

const (
	defaultListenAddr    = ":8080"
	defaultSavesRoot     = "./saves"
	defaultMediaRoot     = "./media"
	defaultShutdownGrace = 15 * time.Second
)

// Providers holds one interface value per pipeline stage. Nil means the stage
// is not configured. Populated by main via the config registry.
type Providers struct {
	LLM   llm.Provider
	TTS   tts.Provider
	Image image.Provider
	Music music.Provider
	STT   stt.Provider
}

// App owns all subsystem lifetimes for one server process.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	level     *slog.LevelVar
	grace     time.Duration
	voice     tts.Voice

	met      *observe.Metrics
	store    *steps.Store
	cache    *media.Cache
	mediaSvc *media.Service
	pool     *media.Pool
	external *tools.Registry
	speech   *vocab.Corrector
	sessions *session.Manager
	gateway  *ws.Gateway
	handler  http.Handler

	// mu guards the listener and the hot-reloadable game tuning.
	mu     sync.Mutex
	ln     net.Listener
	tuning config.GameConfig

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithVersion sets the version string announced to clients and logged at
// startup. The default is "dev".
func WithVersion(v string) Option {
	return func(a *App) {
		if v != "" {
			a.version = v
		}
	}
}

// WithLevelVar hands the app the level var behind the process logger so
// config reloads can change verbosity without a restart.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects an instrument set instead of the process-wide default.
// Tests use it to keep instruments isolated.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.met = m
		}
	}
}

// New assembles the server from cfg and providers. It creates the step
// journal and media stores, connects the configured external tool servers,
// and mounts the full HTTP surface; it does not bind a port — that is Run's
// job.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		grace:     cfg.Server.ShutdownGrace(),
		tuning:    cfg.Game,
	}
	if a.grace <= 0 {
		a.grace = defaultShutdownGrace
	}
	for _, o := range opts {
		o(a)
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	// ── Step journal ─────────────────────────────────────────────────────
	savesRoot := cfg.Saves.Root
	if savesRoot == "" {
		savesRoot = defaultSavesRoot
	}
	a.store = steps.NewStore(savesRoot)

	// ── Media cache, planner, worker pool ────────────────────────────────
	mediaRoot := cfg.Media.Root
	if mediaRoot == "" {
		mediaRoot = defaultMediaRoot
	}
	var cacheOpts []media.CacheOption
	if ttl := cfg.Media.CacheTTL(); ttl > 0 {
		cacheOpts = append(cacheOpts, media.WithTTL(ttl))
	}
	if cfg.Media.MaxBytes > 0 {
		cacheOpts = append(cacheOpts, media.WithMaxBytes(cfg.Media.MaxBytes))
	}
	a.cache = media.NewCache(mediaRoot, cacheOpts...)

	if providers.Image != nil || providers.Music != nil {
		svcOpts := []media.ServiceOption{media.WithServiceMetrics(a.met)}
		if providers.Image != nil {
			svcOpts = append(svcOpts, media.WithImageProvider(providers.Image, cfg.Providers.Image.Name))
		}
		if providers.Music != nil {
			svcOpts = append(svcOpts, media.WithMusicProvider(providers.Music, cfg.Providers.Music.Name))
		}
		a.mediaSvc = media.NewService(a.cache, svcOpts...)
	}
	a.pool = media.NewPool(cfg.Media.Workers, nil)

	if providers.TTS != nil {
		a.voice = tts.Voice{
			Name:   optString(cfg.Providers.TTS.Options, "voice"),
			Format: optString(cfg.Providers.TTS.Options, "format"),
			Speed:  optFloat(cfg.Providers.TTS.Options, "speed"),
		}
	}

	// ── External tool servers ────────────────────────────────────────────
	a.external = tools.NewRegistry()
	a.closers = append(a.closers, a.external.Close)
	for _, srv := range cfg.Tools.Servers {
		n, err := a.external.AttachMCP(ctx, tools.ServerConfig{
			Name:    srv.Name,
			Command: srv.Command,
			Env:     srv.Env,
		})
		if err != nil {
			return nil, fmt.Errorf("app: attach tool server %q: %w", srv.Name, err)
		}
		slog.Info("tool server attached", "name", srv.Name, "tools", n)
	}

	// ── Voice command correction ─────────────────────────────────────────
	if providers.STT != nil {
		a.speech = vocab.New()
	}

	// ── Sessions and gateway ─────────────────────────────────────────────
	a.sessions = session.NewManager(session.WithManagerMetrics(a.met))
	a.gateway = ws.NewGateway(a.buildSession, a.sessions, a.store,
		ws.WithVersion(a.version),
		ws.WithMetrics(a.met),
	)

	// ── HTTP surface ─────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.gateway)
	health.New(
		health.DirWritable("saves", savesRoot),
		health.ProviderConfigured("llm", func() bool { return a.providers.LLM != nil }),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.met)(mux)

	return a, nil
}

// buildSession is the gateway's session factory: a fresh inventory, tool
// registry, agent, and engine per game, sharing the process-wide journal,
// media stores, worker pool, and tool-server connections.
func (a *App) buildSession(sessionID string, spec ws.GameSpec) (*session.Session, error) {
	if a.providers.LLM == nil {
		return nil, fmt.Errorf("app: no llm provider configured")
	}

	a.mu.Lock()
	tuning := a.tuning
	a.mu.Unlock()

	inv := inventory.New()
	reg := tools.NewRegistry(a.external.Snapshot()...)
	reg.Register(inventory.Tools(inv)...)

	agOpts := []agent.Option{agent.WithMetrics(a.met)}
	if tuning.Temperature > 0 {
		agOpts = append(agOpts, agent.WithTemperature(tuning.Temperature))
	}
	if tuning.MaxTokens > 0 {
		agOpts = append(agOpts, agent.WithMaxTokens(tuning.MaxTokens))
	}
	if tuning.HistoryLimit > 0 {
		agOpts = append(agOpts, agent.WithHistoryLimit(tuning.HistoryLimit))
	}
	ag := agent.New(a.providers.LLM, reg, agOpts...)

	var engOpts []game.Option
	if a.providers.TTS != nil {
		engOpts = append(engOpts, game.WithTTS(a.providers.TTS, a.voice))
	}
	if a.mediaSvc != nil {
		engOpts = append(engOpts, game.WithMedia(a.mediaSvc))
	}
	eng := game.New(spec.GameID, spec.Theme, spec.ArtStyle, ag, inv, engOpts...)

	sessOpts := []session.Option{
		session.WithPool(a.pool),
		session.WithMetrics(a.met),
	}
	if a.mediaSvc != nil {
		sessOpts = append(sessOpts, session.WithMediaLookup(a.mediaSvc))
	}
	if a.providers.STT != nil {
		sessOpts = append(sessOpts, session.WithSTT(a.providers.STT), session.WithCorrector(a.speech))
	}
	return session.New(sessionID, eng, a.store, inv, sessOpts...), nil
}

// Handler returns the server's full HTTP surface. Tests drive it through
// httptest instead of binding a port.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the bound listen address once Run has opened its listener,
// and "" before that. Useful with a ":0" listen address.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Run binds the listen address and serves HTTP until ctx is cancelled or the
// server fails. On cancellation it drains plain requests within the shutdown
// grace period and unwinds websocket handlers through their request contexts,
// which [http.Server.Shutdown] leaves alone once hijacked.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: websocket connections outlive any fixed deadline.
		BaseContext: func(net.Listener) context.Context { return connCtx },
	}

	slog.Info("server listening", "addr", ln.Addr().String(), "version", a.version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		cancelConns()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.grace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown releases everything Run left running: sessions first (cancelling
// their detached media work), then the media pool, then the closers in
// reverse-init order. It respects the context deadline; remaining closers are
// skipped once it expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.sessions.CloseAll()

		done := make(chan struct{})
		go func() {
			a.pool.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("media tasks still draining at shutdown deadline")
			shutdownErr = ctx.Err()
			return
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ApplyConfig applies what can change at runtime and logs what cannot. Wire
// it as the config watcher's change callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GameChanged {
		a.mu.Lock()
		a.tuning = d.NewGame
		a.mu.Unlock()
		slog.Info("game tuning updated for new sessions",
			"temperature", d.NewGame.Temperature,
			"max_tokens", d.NewGame.MaxTokens,
			"history_limit", d.NewGame.HistoryLimit,
		)
	}
	for _, section := range d.RestartNeeded {
		slog.Warn("config change needs a restart to take effect", "section", section)
	}
}

// optString extracts a string from a provider options map. Returns "" when
// the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider options map. YAML decodes
// untyped numbers as int or float64 depending on their spelling, so both are
// accepted.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
