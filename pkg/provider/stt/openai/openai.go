// Package openai provides an STT provider backed by the OpenAI transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/fableloom/fableloom/pkg/provider/stt"
)

const (
	defaultModel = "whisper-1"

	defaultRequestTimeout = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcriptions endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	model          string
	language       string
	baseURL        string
	requestTimeout time.Duration
	connectTimeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the transcription model (e.g., "whisper-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage pins the input language as an ISO-639-1 code (e.g., "en").
// Unset lets the model detect the language.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithRequestTimeout bounds the total duration of one transcription request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		c.requestTimeout = d
	}
}

// WithConnectTimeout bounds how long a new connection attempt may take.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:          defaultModel,
		requestTimeout: defaultRequestTimeout,
		connectTimeout: defaultConnectTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout: cfg.requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.connectTimeout}).DialContext,
			},
		}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model, language: cfg.language}, nil
}

// Transcribe implements stt.Provider. The clip is uploaded as a multipart
// file whose name carries the extension the API uses for format detection.
func (p *Provider) Transcribe(ctx context.Context, clip stt.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("openai: clip must not be empty")
	}
	name, err := fileNameForMIME(clip.MIME)
	if err != nil {
		return "", err
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), name, clip.MIME),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	transcription, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return transcription.Text, nil
}

// fileNameForMIME maps an audio MIME type to an upload filename with the
// extension the transcription API expects. An empty MIME is treated as webm,
// the default browser recording container.
func fileNameForMIME(mime string) (string, error) {
	switch mime {
	case "", "audio/webm":
		return "clip.webm", nil
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "clip.wav", nil
	case "audio/mpeg", "audio/mp3":
		return "clip.mp3", nil
	case "audio/mp4", "audio/m4a":
		return "clip.m4a", nil
	case "audio/ogg", "application/ogg":
		return "clip.ogg", nil
	case "audio/flac":
		return "clip.flac", nil
	default:
		return "", fmt.Errorf("openai: unsupported audio MIME type %q", mime)
	}
}
