package openai

import (
	"context"
	"testing"

	"github.com/fableloom/fableloom/pkg/provider/image"
)

// ---- Request construction ----

func TestBuildParams_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := image.SceneRequest{
		Prompt: "pixel art style: a torchlit dungeon corridor",
		Style:  "pixel",
	}
	params := p.buildParams(req)
	if params.Prompt != req.Prompt {
		t.Errorf("expected prompt to be carried verbatim, got %q", params.Prompt)
	}
	if string(params.Model) != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, params.Model)
	}
	if string(params.Size) != defaultSize {
		t.Errorf("expected size %q, got %q", defaultSize, params.Size)
	}
	if string(params.ResponseFormat) != "b64_json" {
		t.Errorf("expected base64 response format, got %q", params.ResponseFormat)
	}
	if !params.N.Valid() || params.N.Value != 1 {
		t.Errorf("expected exactly one image requested, got %+v", params.N)
	}
}

func TestBuildParams_CustomModelAndSize(t *testing.T) {
	p, err := New("key", WithModel("dall-e-2"), WithSize("512x512"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(image.SceneRequest{Prompt: "a forest clearing"})
	if string(params.Model) != "dall-e-2" {
		t.Errorf("expected model 'dall-e-2', got %q", params.Model)
	}
	if string(params.Size) != "512x512" {
		t.Errorf("expected size '512x512', got %q", params.Size)
	}
}

// ---- Input validation ----

func TestGenerateScene_EmptyPrompt(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.GenerateScene(context.Background(), image.SceneRequest{}); err == nil {
		t.Error("expected error for empty prompt")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.size != defaultSize {
		t.Errorf("expected size %q, got %q", defaultSize, p.size)
	}
}
