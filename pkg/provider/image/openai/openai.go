// Package openai provides an image provider backed by the OpenAI image API.
package openai

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/fableloom/fableloom/pkg/provider/image"
)

const (
	defaultModel = "dall-e-3"
	defaultSize  = "1024x1024"

	defaultRequestTimeout = 120 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Compile-time interface assertion.
var _ image.Provider = (*Provider)(nil)

// Provider implements image.Provider using the OpenAI images endpoint.
type Provider struct {
	client oai.Client
	model  string
	size   string
}

// config holds optional configuration for the provider.
type config struct {
	model          string
	size           string
	baseURL        string
	requestTimeout time.Duration
	connectTimeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the image model (e.g., "dall-e-3", "dall-e-2").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithSize sets the rendered image dimensions (e.g., "1024x1024").
func WithSize(size string) Option {
	return func(c *config) {
		c.size = size
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithRequestTimeout bounds the total duration of one generation request.
// Image models routinely take tens of seconds, so the default is generous.
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

// New constructs a new OpenAI image Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:          defaultModel,
		size:           defaultSize,
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
	return &Provider{client: client, model: cfg.model, size: cfg.size}, nil
}

// GenerateScene implements image.Provider. The image is requested in base64
// form directly so no follow-up download is needed.
func (p *Provider) GenerateScene(ctx context.Context, req image.SceneRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("openai: prompt must not be empty")
	}

	res, err := p.client.Images.Generate(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai: generate image: %w", err)
	}
	if len(res.Data) == 0 {
		return "", fmt.Errorf("openai: generate image: empty response")
	}
	if res.Data[0].B64JSON == "" {
		return "", fmt.Errorf("openai: generate image: response missing image data")
	}
	return res.Data[0].B64JSON, nil
}

// buildParams assembles the image request for one scene.
func (p *Provider) buildParams(req image.SceneRequest) oai.ImageGenerateParams {
	return oai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          oai.ImageModel(p.model),
		Size:           oai.ImageGenerateParamsSize(p.size),
		ResponseFormat: oai.ImageGenerateParamsResponseFormatB64JSON,
		N:              param.NewOpt(int64(1)),
	}
}
