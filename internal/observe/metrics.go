// Package observe provides application-wide observability primitives for
// Fableloom: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Fableloom metrics.
const meterName = "github.com/fableloom/fableloom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CommandDuration tracks end-to-end game command latency, from receipt
	// of the command to the validated turn response. Attributes: mode, status.
	CommandDuration metric.Float64Histogram

	// LLMStreamDuration tracks one full LLM turn (all tool-loop iterations).
	LLMStreamDuration metric.Float64Histogram

	// MediaDuration tracks media artifact generation latency. Attribute: kind.
	MediaDuration metric.Float64Histogram

	// StepSaveDuration tracks step journal write latency.
	StepSaveDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Commands counts game commands. Use with attributes:
	//   attribute.String("mode", "blocking"|"streaming"|"audio"), attribute.String("status", ...)
	Commands metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ParseFailures counts model responses rejected by the response parser.
	// Use with attribute: attribute.String("kind", ...).
	ParseFailures metric.Int64Counter

	// ValidationRejections counts scene payloads that parsed but failed
	// validation. Use with attribute: attribute.String("field", ...).
	ValidationRejections metric.Int64Counter

	// CacheLookups counts media cache reads. Use with attributes:
	//   attribute.String("kind", "images"|"music"), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter

	// OpenWebsockets tracks the number of connected websocket clients.
	OpenWebsockets metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// interactive latencies: command turns, tool handlers, step saves.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// mediaBuckets covers media generation, which runs from seconds (images) to
// minutes (CPU-bound music synthesis).
var mediaBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CommandDuration, err = m.Float64Histogram("fableloom.command.duration",
		metric.WithDescription("End-to-end game command latency by mode and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMStreamDuration, err = m.Float64Histogram("fableloom.llm.duration",
		metric.WithDescription("Latency of one full LLM turn including tool iterations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MediaDuration, err = m.Float64Histogram("fableloom.media.duration",
		metric.WithDescription("Latency of media artifact generation by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(mediaBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StepSaveDuration, err = m.Float64Histogram("fableloom.step_save.duration",
		metric.WithDescription("Latency of step journal writes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("fableloom.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Commands, err = m.Int64Counter("fableloom.commands",
		metric.WithDescription("Total game commands by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("fableloom.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ParseFailures, err = m.Int64Counter("fableloom.parse.failures",
		metric.WithDescription("Total model responses rejected by the response parser."),
	); err != nil {
		return nil, err
	}
	if met.ValidationRejections, err = m.Int64Counter("fableloom.validation.rejections",
		metric.WithDescription("Total parsed scene payloads that failed validation."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("fableloom.media.cache.lookups",
		metric.WithDescription("Total media cache lookups by kind and result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("fableloom.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}
	if met.OpenWebsockets, err = m.Int64UpDownCounter("fableloom.open_websockets",
		metric.WithDescription("Number of connected websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("fableloom.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records one completed game command: the counter increment and
// the duration sample share the same attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, mode, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.Commands.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, seconds, attrs)
}

// RecordToolCall records one tool invocation: the counter increment by tool
// and status, and the handler latency by tool.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolExecutionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordLLMTurn records the latency of one full LLM turn, tool iterations
// included.
func (m *Metrics) RecordLLMTurn(ctx context.Context, seconds float64) {
	m.LLMStreamDuration.Record(ctx, seconds)
}

// RecordParseFailure records a rejected model response by failure kind.
func (m *Metrics) RecordParseFailure(ctx context.Context, kind string) {
	m.ParseFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordValidationRejection records a parsed payload that failed validation,
// keyed by the offending field.
func (m *Metrics) RecordValidationRejection(ctx context.Context, field string) {
	m.ValidationRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("field", field)),
	)
}

// RecordCacheLookup records one media cache read as a hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		),
	)
}

// RecordMediaGeneration records one media generation attempt with its latency.
func (m *Metrics) RecordMediaGeneration(ctx context.Context, kind, status string, seconds float64) {
	m.MediaDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordStepSave records one step journal write with its latency.
func (m *Metrics) RecordStepSave(ctx context.Context, success bool, seconds float64) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.StepSaveDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
