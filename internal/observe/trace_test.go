package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps in a synchronous in-memory tracer provider for the
// duration of the test and returns its exporter.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})
	return exp
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestCorrelationIDOutsideTrace(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationIDInsideTrace(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 || !isHex(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
}

func TestCorrelationIDStableAcrossChildSpans(t *testing.T) {
	installTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "parent")
	defer parent.End()
	childCtx, child := StartSpan(ctx, "child")
	defer child.End()

	if CorrelationID(childCtx) != CorrelationID(ctx) {
		t.Error("child span changed the correlation id")
	}
}

func TestStartSpanRecordsName(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StartSpan(context.Background(), "media generate")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "media generate" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "media generate")
	}
}

func TestLoggerDecoratesBaseInsideTrace(t *testing.T) {
	installTestTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, span := StartSpan(context.Background(), "logged")
	defer span.End()

	Logger(ctx, base).Info("turn finished")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing trace attributes: %s", out)
	}
}

func TestLoggerReturnsBaseUnchangedOutsideTrace(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if got := Logger(context.Background(), base); got != base {
		t.Error("Logger allocated a new logger with no span in context")
	}
}

func TestLoggerNilBaseFallsBackToDefault(t *testing.T) {
	if got := Logger(context.Background(), nil); got != slog.Default() {
		t.Error("Logger(nil) did not return the default logger")
	}
}
