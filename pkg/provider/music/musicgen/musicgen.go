// Package musicgen provides a music provider backed by a locally-running
// MusicGen inference server. It implements the music.Provider interface.
//
// The server is expected to expose POST /generate accepting a JSON body
// {"prompt": "...", "duration": 30} and responding with the rendered audio
// bytes (Content-Type audio/wav). The audio is returned base64-encoded.
//
// Typical usage:
//
//	p, err := musicgen.New("http://localhost:8001",
//	    musicgen.WithDuration(20),
//	    musicgen.WithTimeout(3*time.Minute),
//	)
//	track, err := p.Generate(ctx, music.TrackRequest{Mood: "dungeon"})
package musicgen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fableloom/fableloom/pkg/provider/music"
)

// Compile-time interface assertion.
var _ music.Provider = (*Provider)(nil)

const (
	generateEndpoint = "/generate"

	// defaultDuration is the length in seconds of each generated track.
	defaultDuration = 30

	// defaultTimeout is generous because MusicGen inference on CPU can take
	// several times the track duration.
	defaultTimeout = 5 * time.Minute
)

// Option is a functional option for configuring a musicgen Provider.
type Option func(*Provider)

// WithDuration sets the length in seconds of generated tracks.
func WithDuration(seconds int) Option {
	return func(p *Provider) {
		p.duration = seconds
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the server.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements music.Provider backed by a MusicGen HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	duration   int
	httpClient *http.Client
}

// New creates a new musicgen Provider targeting the inference server at
// serverURL (e.g., "http://localhost:8001"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("musicgen: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		duration:  defaultDuration,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// generateRequest is the JSON body sent to POST /generate.
type generateRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
}

// Available implements music.Provider. A constructed provider always has a
// server URL, so it reports true; reachability problems surface as Generate
// errors instead.
func (p *Provider) Available() bool {
	return true
}

// Generate implements music.Provider. It performs one POST /generate call and
// returns the audio bytes base64-encoded.
func (p *Provider) Generate(ctx context.Context, req music.TrackRequest) (string, error) {
	if req.Mood == "" {
		return "", errors.New("musicgen: mood must not be empty")
	}

	body := generateRequest{
		Prompt:   buildPrompt(req),
		Duration: p.duration,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("musicgen: marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+generateEndpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("musicgen: create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("musicgen: POST %s: %w", generateEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("musicgen: POST %s returned status %d", generateEndpoint, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("musicgen: read audio response: %w", err)
	}
	if len(audio) == 0 {
		return "", errors.New("musicgen: server returned empty audio")
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}

// buildPrompt assembles the generation prompt from the track request. The
// mood always anchors the prompt; the scene context is appended when present.
func buildPrompt(req music.TrackRequest) string {
	var b strings.Builder
	b.WriteString("instrumental fantasy adventure game background music, ")
	b.WriteString(req.Mood)
	b.WriteString(" mood, seamless loop")
	if req.Context != "" {
		b.WriteString(", ")
		b.WriteString(req.Context)
	}
	return b.String()
}
