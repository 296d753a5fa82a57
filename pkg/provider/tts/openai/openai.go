// Package openai provides a TTS provider backed by the OpenAI audio API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/fableloom/fableloom/pkg/provider/tts"
)

const (
	defaultModel  = "tts-1"
	defaultVoice  = "alloy"
	defaultFormat = "mp3"

	defaultRequestTimeout = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model          string
	baseURL        string
	requestTimeout time.Duration
	connectTimeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model (e.g., "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithRequestTimeout bounds the total duration of one synthesis request.
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

// New constructs a new OpenAI TTS Provider.
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
	return &Provider{client: client, model: cfg.model}, nil
}

// SynthesizeBase64 implements tts.Provider. The rendered clip is read fully
// into memory and returned as a standard base64 string.
func (p *Provider) SynthesizeBase64(ctx context.Context, text string, voice tts.Voice) (string, error) {
	if text == "" {
		return "", fmt.Errorf("openai: text must not be empty")
	}

	res, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, voice))
	if err != nil {
		return "", fmt.Errorf("openai: synthesize: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read audio: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// buildParams assembles the speech request, applying the default voice and
// format when the caller leaves them empty.
func (p *Provider) buildParams(text string, voice tts.Voice) oai.AudioSpeechNewParams {
	name := voice.Name
	if name == "" {
		name = defaultVoice
	}
	format := voice.Format
	if format == "" {
		format = defaultFormat
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(name),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if voice.Speed > 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}
	return params
}
