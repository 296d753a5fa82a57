package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts":   {"openai", "mock"},
	"image": {"openai", "mock"},
	"music": {"musicgen", "mock"},
	"stt":   {"openai", "mock"},
}

// envVarPattern matches ${VAR} references in the raw YAML. Bare $VAR is left
// alone so narration text and shell snippets in options survive untouched.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${ENV_VAR} references anywhere in the document are expanded from the
// process environment before decoding; unset variables expand to the empty
// string. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references with the value of the named
// environment variable.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(cfg.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("server.shutdown_timeout %q is not a duration: %w", cfg.Server.ShutdownTimeout, err))
		}
	}

	// Logging
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	// Providers
	errs = append(errs, validateProviderEntry("providers.llm", "llm", cfg.Providers.LLM)...)
	errs = append(errs, validateProviderEntry("providers.tts", "tts", cfg.Providers.TTS)...)
	errs = append(errs, validateProviderEntry("providers.image", "image", cfg.Providers.Image)...)
	errs = append(errs, validateProviderEntry("providers.music", "music", cfg.Providers.Music)...)
	errs = append(errs, validateProviderEntry("providers.stt", "stt", cfg.Providers.STT)...)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no llm provider configured; games cannot run turns until one is set")
	}

	// Media
	if cfg.Media.TTL != "" {
		if _, err := time.ParseDuration(cfg.Media.TTL); err != nil {
			errs = append(errs, fmt.Errorf("media.ttl %q is not a duration: %w", cfg.Media.TTL, err))
		}
	}
	if cfg.Media.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("media.max_bytes %d is negative", cfg.Media.MaxBytes))
	}
	if cfg.Media.Workers < 0 {
		errs = append(errs, fmt.Errorf("media.workers %d is negative", cfg.Media.Workers))
	}

	// Game tuning
	if cfg.Game.Temperature < 0 || cfg.Game.Temperature > 2 {
		errs = append(errs, fmt.Errorf("game.temperature %.2f is out of range [0, 2]", cfg.Game.Temperature))
	}
	if cfg.Game.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("game.max_tokens %d is negative", cfg.Game.MaxTokens))
	}
	if cfg.Game.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("game.history_limit %d is negative", cfg.Game.HistoryLimit))
	}

	// Tool servers
	serverNamesSeen := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks one provider block plus its fallback chain.
// Unknown names produce warnings; structural problems produce errors.
func validateProviderEntry(prefix, kind string, entry ProviderEntry) []error {
	var errs []error
	validateProviderName(kind, entry.Name)
	for i, fb := range entry.Fallbacks {
		fbPrefix := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fbPrefix))
			continue
		}
		validateProviderName(kind, fb.Name)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not nest further fallbacks", fbPrefix))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
