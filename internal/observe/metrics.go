// Package observe provides the voicebridge observability primitives:
// OpenTelemetry metrics for the audio pipeline and session lifecycle,
// tracing helpers, and HTTP middleware for the local metrics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicebridge metrics.
const meterName = "github.com/MrWong99/voicebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// BlocksProduced counts microphone blocks framed by capture, muted or not.
	BlocksProduced metric.Int64Counter

	// BlocksSent counts blocks handed to the transport.
	BlocksSent metric.Int64Counter

	// BlocksMuted counts blocks discarded because the microphone was muted.
	BlocksMuted metric.Int64Counter

	// SendErrors counts blocks the transport refused.
	SendErrors metric.Int64Counter

	// --- Playback ---

	// ChunksPlayed counts assistant chunks played to completion. Use with
	// attribute.String("format", ...).
	ChunksPlayed metric.Int64Counter

	// ChunksSkipped counts chunks dropped by the queue. Use with
	// attribute.String("reason", "decode"|"playback").
	ChunksSkipped metric.Int64Counter

	// FallbackTones counts fallback beeps played in place of a chunk.
	FallbackTones metric.Int64Counter

	// ChunkDuration tracks the audio length of played chunks.
	ChunkDuration metric.Float64Histogram

	// --- Session ---

	// InboundMessages counts signaling messages by kind.
	InboundMessages metric.Int64Counter

	// StateTransitions counts connection state changes. Use with attributes
	// attribute.String("from", ...), attribute.String("to", ...).
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of connected chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from Connect to the connected state.
	ConnectDuration metric.Float64Histogram

	// CallDuration tracks completed call lengths.
	CallDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup and chunk lengths.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets covers calls from a few seconds to an hour.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.BlocksProduced, err = m.Int64Counter("voicebridge.capture.blocks_produced",
		metric.WithDescription("Microphone blocks framed by capture."),
	); err != nil {
		return nil, err
	}
	if met.BlocksSent, err = m.Int64Counter("voicebridge.capture.blocks_sent",
		metric.WithDescription("Microphone blocks sent to the assistant."),
	); err != nil {
		return nil, err
	}
	if met.BlocksMuted, err = m.Int64Counter("voicebridge.capture.blocks_muted",
		metric.WithDescription("Microphone blocks discarded while muted."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("voicebridge.capture.send_errors",
		metric.WithDescription("Microphone blocks the transport refused."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.ChunksPlayed, err = m.Int64Counter("voicebridge.playback.chunks_played",
		metric.WithDescription("Assistant audio chunks played by format."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSkipped, err = m.Int64Counter("voicebridge.playback.chunks_skipped",
		metric.WithDescription("Assistant audio chunks skipped by reason."),
	); err != nil {
		return nil, err
	}
	if met.FallbackTones, err = m.Int64Counter("voicebridge.playback.fallback_tones",
		metric.WithDescription("Fallback tones played in place of assistant audio."),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("voicebridge.playback.chunk_duration",
		metric.WithDescription("Audio length of played chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Session.
	if met.InboundMessages, err = m.Int64Counter("voicebridge.session.inbound_messages",
		metric.WithDescription("Signaling messages received by kind."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voicebridge.session.state_transitions",
		metric.WithDescription("Connection state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicebridge.active_sessions",
		metric.WithDescription("Number of connected chat sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voicebridge.session.connect_duration",
		metric.WithDescription("Time from connect to the connected state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voicebridge.session.call_duration",
		metric.WithDescription("Length of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBlock records one framed capture block.
func (m *Metrics) RecordBlock(ctx context.Context, muted bool, sendErr error) {
	m.BlocksProduced.Add(ctx, 1)
	switch {
	case muted:
		m.BlocksMuted.Add(ctx, 1)
	case sendErr != nil:
		m.SendErrors.Add(ctx, 1)
	default:
		m.BlocksSent.Add(ctx, 1)
	}
}

// RecordChunkPlayed records a chunk that played to completion.
func (m *Metrics) RecordChunkPlayed(ctx context.Context, format string, d time.Duration) {
	m.ChunksPlayed.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
	m.ChunkDuration.Record(ctx, d.Seconds())
}

// RecordChunkSkipped records a chunk dropped by the playback queue.
func (m *Metrics) RecordChunkSkipped(ctx context.Context, reason string) {
	m.ChunksSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordInbound records one received signaling message.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTransition records a connection state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
