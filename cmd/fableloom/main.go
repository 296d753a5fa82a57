// Command fableloom is the main entry point for the Fableloom adventure server.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/fableloom/fableloom/internal/app"
	"github.com/fableloom/fableloom/internal/config"
	"github.com/fableloom/fableloom/internal/game"
	"github.com/fableloom/fableloom/internal/resilience"
	"github.com/fableloom/fableloom/pkg/provider/image"
	imagemock "github.com/fableloom/fableloom/pkg/provider/image/mock"
	imageopenai "github.com/fableloom/fableloom/pkg/provider/image/openai"
	"github.com/fableloom/fableloom/pkg/provider/llm"
	"github.com/fableloom/fableloom/pkg/provider/llm/anyllm"
	llmmock "github.com/fableloom/fableloom/pkg/provider/llm/mock"
	llmopenai "github.com/fableloom/fableloom/pkg/provider/llm/openai"
	"github.com/fableloom/fableloom/pkg/provider/music"
	musicmock "github.com/fableloom/fableloom/pkg/provider/music/mock"
	"github.com/fableloom/fableloom/pkg/provider/music/musicgen"
	"github.com/fableloom/fableloom/pkg/provider/stt"
	sttmock "github.com/fableloom/fableloom/pkg/provider/stt/mock"
	sttopenai "github.com/fableloom/fableloom/pkg/provider/stt/openai"
	"github.com/fableloom/fableloom/pkg/provider/tts"
	ttsmock "github.com/fableloom/fableloom/pkg/provider/tts/mock"
	ttsopenai "github.com/fableloom/fableloom/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fableloom: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fableloom: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("fableloom starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Log.Level,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithVersion(version),
		app.WithLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// The watcher re-validates the file on every change and keeps the old
	// config when the new one is broken, so a bad edit cannot take the server
	// down. Watch failures degrade to a fixed config, never to a dead server.
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config file watching disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	grace := cfg.Server.ShutdownGrace()
	if grace <= 0 {
		grace = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// mockProse and mockPayload form the canned narrator response served by every
// "mock" provider entry, so a keyless config boots a playable demo loop. The
// single payload satisfies both decode paths: the outline parser reads title
// and mainQuest and ignores the scene fields, the turn parser reads
// responseType and the scene fields and ignores the outline ones. The only
// exit loops back to the same location, which keeps every movement legal.
const (
	mockProse = "Lantern light spills across mossy flagstones as the Hall of Echoes " +
		"swallows your footsteps. Somewhere below, water drips in time with your heartbeat."
	mockPayload = `{"title":"The Hall of Echoes","mainQuest":"Find the source of the echo and silence it.",` +
		`"responseType":"fullScene","locationId":"hall_of_echoes","locationName":"The Hall of Echoes",` +
		`"imageDescription":"a vast torchlit stone hall with moss creeping between the flagstones",` +
		`"musicDescription":"slow dripping cavern ambience","musicMood":"mystery",` +
		`"exits":[{"direction":"north","targetLocationId":"hall_of_echoes","description":"an archway that somehow leads back in"}]}`
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. Every name accepted by
// config validation has a factory here, so Create* can only miss on a name
// that never passed Load.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the official SDK rather than the any-llm shim: the
	// agent loop leans on its tool-calling support.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: mockProse + "\n" + game.Marker + "\n" + mockPayload},
			StreamChunks: []llm.Chunk{
				{Text: mockProse + "\n"},
				{Text: game.Marker + "\n" + mockPayload},
				{FinishReason: "stop"},
			},
		}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(entry config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{SynthesizeResult: demoArtifact()}, nil
	})

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("openai", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []imageopenai.Option
		if entry.Model != "" {
			opts = append(opts, imageopenai.WithModel(entry.Model))
		}
		if size := optString(entry.Options, "size"); size != "" {
			opts = append(opts, imageopenai.WithSize(size))
		}
		if entry.BaseURL != "" {
			opts = append(opts, imageopenai.WithBaseURL(entry.BaseURL))
		}
		return imageopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterImage("mock", func(entry config.ProviderEntry) (image.Provider, error) {
		return &imagemock.Provider{GenerateResult: demoArtifact()}, nil
	})

	// ── Music ─────────────────────────────────────────────────────────────────

	reg.RegisterMusic("musicgen", func(entry config.ProviderEntry) (music.Provider, error) {
		var opts []musicgen.Option
		if secs := optInt(entry.Options, "duration"); secs > 0 {
			opts = append(opts, musicgen.WithDuration(secs))
		}
		return musicgen.New(entry.BaseURL, opts...)
	})

	reg.RegisterMusic("mock", func(entry config.ProviderEntry) (music.Provider, error) {
		return &musicmock.Provider{AvailableResult: true, GenerateResult: demoArtifact()}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{TranscribeResult: "look around"}, nil
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// demoArtifact returns the placeholder payload mock media providers serve.
func demoArtifact() string {
	return base64.StdEncoding.EncodeToString([]byte("fableloom demo artifact"))
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. An entry with fallbacks becomes a failover chain: the primary is
// tried first and each fallback provider in declaration order, every member
// behind its own circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider has no registered factory, skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
		}
		if ps.LLM != nil && len(cfg.Providers.LLM.Fallbacks) > 0 {
			fb := resilience.NewLLMFallback(ps.LLM, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLM.Fallbacks {
				fp, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
			}
			ps.LLM = fb
			slog.Info("fallback chain configured", "kind", "llm", "chain", fb.Chain())
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider has no registered factory, skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name, "model", cfg.Providers.TTS.Model)
		}
		if ps.TTS != nil && len(cfg.Providers.TTS.Fallbacks) > 0 {
			fb := resilience.NewTTSFallback(ps.TTS, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.TTS.Fallbacks {
				fp, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
			}
			ps.TTS = fb
			slog.Info("fallback chain configured", "kind", "tts", "chain", fb.Chain())
		}
	}

	if name := cfg.Providers.Image.Name; name != "" {
		p, err := reg.CreateImage(cfg.Providers.Image)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider has no registered factory, skipping", "kind", "image", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create image provider %q: %w", name, err)
		} else {
			ps.Image = p
			slog.Info("provider created", "kind", "image", "name", name, "model", cfg.Providers.Image.Model)
		}
		if ps.Image != nil && len(cfg.Providers.Image.Fallbacks) > 0 {
			fb := resilience.NewImageFallback(ps.Image, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.Image.Fallbacks {
				fp, err := reg.CreateImage(entry)
				if err != nil {
					return nil, fmt.Errorf("create image fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
			}
			ps.Image = fb
			slog.Info("fallback chain configured", "kind", "image", "chain", fb.Chain())
		}
	}

	if name := cfg.Providers.Music.Name; name != "" {
		p, err := reg.CreateMusic(cfg.Providers.Music)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider has no registered factory, skipping", "kind", "music", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create music provider %q: %w", name, err)
		} else {
			ps.Music = p
			slog.Info("provider created", "kind", "music", "name", name, "model", cfg.Providers.Music.Model)
		}
		if ps.Music != nil && len(cfg.Providers.Music.Fallbacks) > 0 {
			fb := resilience.NewMusicFallback(ps.Music, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.Music.Fallbacks {
				fp, err := reg.CreateMusic(entry)
				if err != nil {
					return nil, fmt.Errorf("create music fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
			}
			ps.Music = fb
			slog.Info("fallback chain configured", "kind", "music", "chain", fb.Chain())
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider has no registered factory, skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name, "model", cfg.Providers.STT.Model)
		}
		if ps.STT != nil && len(cfg.Providers.STT.Fallbacks) > 0 {
			fb := resilience.NewSTTFallback(ps.STT, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.STT.Fallbacks {
				fp, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
			}
			ps.STT = fb
			slog.Info("fallback chain configured", "kind", "stt", "chain", fb.Chain())
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Fableloom startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Image", cfg.Providers.Image.Name, cfg.Providers.Image.Model)
	printProvider("Music", cfg.Providers.Music.Name, cfg.Providers.Music.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Printf("║  Tool servers    : %-19d ║\n", len(cfg.Tools.Servers))
	savesRoot := cfg.Saves.Root
	if savesRoot == "" {
		savesRoot = "./saves"
	}
	fmt.Printf("║  Saves root      : %-19s ║\n", truncateCell(savesRoot))
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", truncateCell(addr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncateCell(value))
}

// truncateCell fits a value into the summary box's 19-rune column.
func truncateCell(value string) string {
	runes := []rune(value)
	if len(runes) > 19 {
		return string(runes[:16]) + "..."
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger from the log config. The returned
// LevelVar is handed to the app so config reloads can raise or lower
// verbosity on the live handler.
func newLogger(cfg config.LogConfig) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Level.Level())

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if cfg.Format == config.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), levelVar
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes untyped numbers as int or float64 depending on their spelling,
// so both are accepted.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
