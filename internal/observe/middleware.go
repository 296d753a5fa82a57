package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// probePaths lists endpoints hit by schedulers rather than users; their
// completion logs stay at debug.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware wraps an [http.Handler] with tracing, request metrics, and
// completion logging. Each request runs inside a server span that continues
// inbound W3C trace context when present, and the trace id is echoed back in
// the X-Correlation-ID header so clients can quote it in bug reports.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &tracedHandler{next: next, met: m}
	}
}

type tracedHandler struct {
	next http.Handler
	met  *Metrics
	prop propagation.TraceContext
}

func (h *tracedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	h.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(tap, r.WithContext(ctx))

	elapsed := time.Since(start)
	span.SetAttributes(semconv.HTTPResponseStatusCode(tap.status))
	h.met.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)

	level := slog.LevelInfo
	if probePaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", tap.status),
		slog.Duration("duration", elapsed),
	)
}

// responseTap captures the status code on its way to the client.
type responseTap struct {
	http.ResponseWriter
	status int
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach Hijacker and Flusher on the
// underlying writer; websocket upgrades need both.
func (t *responseTap) Unwrap() http.ResponseWriter { return t.ResponseWriter }
