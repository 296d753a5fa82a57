package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/fableloom/fableloom/pkg/provider/tts"
	ttsmock "github.com/fableloom/fableloom/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeResult: "cHJpbWFyeQ=="}
	secondary := &ttsmock.Provider{SynthesizeResult: "c2Vjb25kYXJ5"}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.SynthesizeBase64(context.Background(), "You enter the hall.", tts.Voice{Name: "alloy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio != "cHJpbWFyeQ==" {
		t.Fatalf("audio = %q, want primary payload", audio)
	}
	if len(secondary.SynthesizeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.SynthesizeCalls))
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("tts down")}
	secondary := &ttsmock.Provider{SynthesizeResult: "c2Vjb25kYXJ5"}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.SynthesizeBase64(context.Background(), "You enter the hall.", tts.Voice{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio != "c2Vjb25kYXJ5" {
		t.Fatalf("audio = %q, want secondary payload", audio)
	}

	// The fallback must receive the same text and voice.
	if len(secondary.SynthesizeCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.SynthesizeCalls))
	}
	if secondary.SynthesizeCalls[0].Text != "You enter the hall." {
		t.Fatalf("fallback text = %q", secondary.SynthesizeCalls[0].Text)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.SynthesizeBase64(context.Background(), "text", tts.Voice{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
