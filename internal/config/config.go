// Package config provides the configuration schema, loader, and provider registry
// for the Fableloom game server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Fableloom server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unrecognised or empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler used by the server binary.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure for Fableloom.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Providers ProvidersConfig `yaml:"providers"`
	Saves     SavesConfig     `yaml:"saves"`
	Media     MediaConfig     `yaml:"media"`
	Game      GameConfig      `yaml:"game"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network settings for the Fableloom server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown, as a Go duration string
	// (e.g., "10s"). Empty means the binary's built-in default.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ShutdownGrace returns the parsed shutdown timeout. It returns zero for
// empty or malformed values; [Validate] reports malformed ones, so after a
// successful load zero always means "not set".
func (s ServerConfig) ShutdownGrace() time.Duration {
	d, _ := time.ParseDuration(s.ShutdownTimeout)
	return d
}

// LogConfig holds logging settings for the server binary.
type LogConfig struct {
	// Level controls verbosity. Changing it in a watched config file takes
	// effect without a restart.
	Level LogLevel `yaml:"level"`

	// Format selects the slog handler: "text" or "json".
	Format LogFormat `yaml:"format"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM   ProviderEntry `yaml:"llm"`
	TTS   ProviderEntry `yaml:"tts"`
	Image ProviderEntry `yaml:"image"`
	Music ProviderEntry `yaml:"music"`
	STT   ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists providers tried in order when this one fails. Each
	// fallback is a complete entry with its own credentials and model.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// SavesConfig holds settings for the step-based save store.
type SavesConfig struct {
	// Root is the directory holding one subdirectory per game.
	// Empty means "./saves".
	Root string `yaml:"root"`
}

// MediaConfig holds settings for the content-addressed media cache and the
// background generation workers.
type MediaConfig struct {
	// Root is the directory holding per-game media artifacts.
	// Empty means "./media".
	Root string `yaml:"root"`

	// TTL is how long cached artifacts stay valid, as a Go duration string
	// (e.g., "168h"). Empty means the cache's built-in 7-day default.
	TTL string `yaml:"ttl"`

	// MaxBytes caps the per-game artifact footprint. Zero means the cache's
	// built-in 500 MiB default.
	MaxBytes int64 `yaml:"max_bytes"`

	// Workers bounds concurrent media generation tasks. Zero means the
	// pool's built-in default of 4.
	Workers int `yaml:"workers"`
}

// CacheTTL returns the parsed artifact TTL. It returns zero for empty or
// malformed values; [Validate] reports malformed ones, so after a successful
// load zero always means "not set".
func (m MediaConfig) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(m.TTL)
	return d
}

// GameConfig tunes the LLM turn loop. Changing these in a watched config file
// applies to sessions created after the reload.
type GameConfig struct {
	// Temperature is the sampling temperature for completions, in [0, 2].
	// Zero means the agent's built-in default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion tokens per provider call. Zero means the
	// provider default.
	MaxTokens int `yaml:"max_tokens"`

	// HistoryLimit caps how many conversation messages are sent to the
	// model per call. Saved games always keep the full transcript; the cap
	// only trims what the model sees. Zero means unlimited.
	HistoryLimit int `yaml:"history_limit"`
}

// ToolsConfig holds the list of external MCP tool servers to attach.
type ToolsConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to launch a single MCP tool server over the
// stdio transport.
type MCPServerConfig struct {
	// Name is a unique identifier for this server. Attached tools are
	// namespaced as "<name>_<tool>".
	Name string `yaml:"name"`

	// Command is the executable with optional arguments, split on whitespace.
	Command string `yaml:"command"`

	// Env holds additional environment variables injected into the
	// subprocess. May be nil.
	Env map[string]string `yaml:"env"`
}
