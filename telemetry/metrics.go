// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	StreamsStarted       prometheus.Counter
	StreamsEnded         prometheus.Counter
	StreamsInitialized   prometheus.Counter
	ChatMessagesStored   prometheus.Counter
	ChatCommandsExecuted prometheus.Counter
	ChatCommandsRejected prometheus.Counter
	TimeoutsIssued       prometheus.Counter

	// Histograms (seconds)
	IngestTokenDuration prometheus.Observer

	// Gauges
	LiveStreamsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		StreamsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_streams_started_total", Help: "Number of stream sessions started"})
		StreamsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_streams_ended_total", Help: "Number of stream sessions ended"})
		StreamsInitialized = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_streams_initialized_total", Help: "Number of stream initializations (ingest token + upsert)"})
		ChatMessagesStored = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_chat_messages_total", Help: "Number of chat messages persisted"})
		ChatCommandsExecuted = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_chat_commands_total", Help: "Number of moderation commands executed"})
		ChatCommandsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_chat_commands_rejected_total", Help: "Number of moderation commands rejected (authorization, arguments, unknown)"})
		TimeoutsIssued = promauto.NewCounter(prometheus.CounterOpts{Name: "clipt_chat_timeouts_total", Help: "Number of chat timeouts issued (bans included)"})
		IngestTokenDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clipt_ingest_token_duration_seconds", Help: "Ingest token request duration seconds", Buckets: prometheus.DefBuckets})
		LiveStreamsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clipt_live_streams", Help: "Current number of live streams"})
	})
}

// SetLiveStreams records the current live stream count.
func SetLiveStreams(n int) {
	if LiveStreamsGauge != nil {
		LiveStreamsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
