// Package metrics provides Prometheus metrics export for the gateway.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
)

// Exporter exports gateway metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messageOutcomes  *prometheus.CounterVec
	pipelineLatency  *prometheus.HistogramVec
	dispatchDelay    prometheus.Histogram

	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	rateLimitHits  prometheus.Counter
	pausedContacts prometheus.Gauge
	pendingPairing prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a new metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwriter",
			Subsystem: "pipeline",
			Name:      "messages_received_total",
			Help:      "Inbound messages by channel",
		},
		[]string{"channel"},
	)

	e.messageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwriter",
			Subsystem: "pipeline",
			Name:      "message_outcomes_total",
			Help:      "Terminal pipeline states per message",
		},
		[]string{"status"},
	)

	e.pipelineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghostwriter",
			Subsystem: "pipeline",
			Name:      "latency_seconds",
			Help:      "End-to-end pipeline latency by terminal status",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.dispatchDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ghostwriter",
			Subsystem: "hts",
			Name:      "dispatch_delay_seconds",
			Help:      "Simulated typing delay before dispatch",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwriter",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM token usage by model and kind",
		},
		[]string{"model", "kind"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghostwriter",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM call latency by model",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ghostwriter",
			Subsystem: "ratelimit",
			Name:      "breaches_total",
			Help:      "Rate limit window breaches",
		},
	)

	e.pausedContacts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ghostwriter",
			Subsystem: "pause",
			Name:      "paused_contacts",
			Help:      "Contacts currently paused",
		},
	)

	e.pendingPairing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ghostwriter",
			Subsystem: "admission",
			Name:      "pending_pairing_requests",
			Help:      "Pairing requests awaiting operator action",
		},
	)

	registry.MustRegister(
		e.messagesReceived,
		e.messageOutcomes,
		e.pipelineLatency,
		e.dispatchDelay,
		e.llmTokens,
		e.llmLatency,
		e.rateLimitHits,
		e.pausedContacts,
		e.pendingPairing,
	)
	return e
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ObserveReceived counts one inbound message.
func (e *Exporter) ObserveReceived(channelID string) {
	e.messagesReceived.WithLabelValues(channelID).Inc()
}

// ObserveOutcome counts one terminal pipeline state.
func (e *Exporter) ObserveOutcome(status string) {
	e.messageOutcomes.WithLabelValues(status).Inc()
}

// ObservePipeline records end-to-end latency for one terminal status.
func (e *Exporter) ObservePipeline(status string, d time.Duration) {
	e.pipelineLatency.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveDispatchDelay records a typing-simulation delay.
func (e *Exporter) ObserveDispatchDelay(d time.Duration) {
	e.dispatchDelay.Observe(d.Seconds())
}

// ObserveLLM records token usage and latency for one call.
func (e *Exporter) ObserveLLM(kind string, stats *llm.CallStats) {
	if stats == nil {
		return
	}
	e.llmTokens.WithLabelValues(stats.Model, kind).Add(float64(stats.TotalTokens))
	e.llmLatency.WithLabelValues(stats.Model).Observe(float64(stats.TotalDurationMs) / 1000)
}

// ObserveRateLimit counts one breach.
func (e *Exporter) ObserveRateLimit() {
	e.rateLimitHits.Inc()
}

// SetPausedContacts updates the paused-contact gauge.
func (e *Exporter) SetPausedContacts(n int) {
	e.pausedContacts.Set(float64(n))
}

// SetPendingPairing updates the pending pairing gauge.
func (e *Exporter) SetPendingPairing(n int) {
	e.pendingPairing.Set(float64(n))
}

// GaugeSource supplies point-in-time values for the pause and pairing
// gauges.
type GaugeSource interface {
	PausedContacts(ctx context.Context) (int, error)
	PendingPairing(ctx context.Context) (int, error)
}

const gaugePollEvery = 30 * time.Second

// RunGaugeLoop refreshes the gauges once immediately and then on every
// tick, announcing each refresh on the bus as a metrics_update event.
// Blocks until ctx is cancelled.
func (e *Exporter) RunGaugeLoop(ctx context.Context, src GaugeSource, bus *events.Bus) {
	ticker := time.NewTicker(gaugePollEvery)
	defer ticker.Stop()
	for {
		e.refreshGauges(ctx, src, bus)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Exporter) refreshGauges(ctx context.Context, src GaugeSource, bus *events.Bus) {
	paused, err := src.PausedContacts(ctx)
	if err != nil {
		slog.Warn("paused contact count unavailable", "error", err)
		return
	}
	pending, err := src.PendingPairing(ctx)
	if err != nil {
		slog.Warn("pending pairing count unavailable", "error", err)
		return
	}
	e.SetPausedContacts(paused)
	e.SetPendingPairing(pending)
	if bus != nil {
		bus.Publish(events.TypeMetricsUpdate, map[string]any{
			"pausedContacts": paused,
			"pendingPairing": pending,
		})
	}
}

// WatchBus consumes gateway events and keeps counters current. Runs
// until the subscription channel closes.
func (e *Exporter) WatchBus(bus *events.Bus) func() {
	ch, unsubscribe := bus.Subscribe()
	go func() {
		for ev := range ch {
			switch ev.Type {
			case events.TypeMessageReceived:
				if chID, ok := ev.Payload["channelId"].(string); ok {
					e.ObserveReceived(chID)
				}
			case events.TypeMessageStatus:
				if status, ok := ev.Payload["status"].(string); ok {
					e.ObserveOutcome(status)
				}
			case events.TypeRateLimit:
				e.ObserveRateLimit()
			}
		}
	}()
	return unsubscribe
}
