package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/room4-2/OrderDesk/llm"
)

// Metrics holds all Prometheus metrics for the ordering service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ConnectionsActive   prometheus.Gauge
	AudioSessionsActive prometheus.Gauge
	OrderSessionsActive prometheus.Gauge
	RealtimeActive      prometheus.Gauge

	// Transcription metrics
	PartialPasses         *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec
	AudioBytesTotal       prometheus.Counter

	// Conversation metrics
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	ToolRounds    prometheus.Histogram
	ToolCalls     *prometheus.CounterVec
	TokensTotal   *prometheus.CounterVec
	OrdersCreated prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "orderdesk"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open client connections",
		}),
		AudioSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_sessions_active",
			Help:      "Number of audio sessions currently recording",
		}),
		OrderSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_sessions_active",
			Help:      "Number of live order sessions",
		}),
		RealtimeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_streams_active",
			Help:      "Number of open realtime transcription streams",
		}),
		PartialPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_passes_total",
			Help:      "Partial transcription passes by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Speech-to-text call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"pass"}),
		AudioBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes buffered",
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by channel and status",
		}, []string{"channel", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"channel"}),
		ToolRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_rounds",
			Help:      "Tool rounds per conversation turn",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Executed tool calls by tool name",
		}, []string{"tool"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens processed",
		}, []string{"direction"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders placed through the assistant",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events sent to clients by code",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.ConnectionsActive,
		m.AudioSessionsActive,
		m.OrderSessionsActive,
		m.RealtimeActive,
		m.PartialPasses,
		m.TranscriptionDuration,
		m.AudioBytesTotal,
		m.TurnsTotal,
		m.TurnDuration,
		m.ToolRounds,
		m.ToolCalls,
		m.TokensTotal,
		m.OrdersCreated,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPartial records the outcome of a partial transcription pass.
func (m *Metrics) RecordPartial(outcome string) {
	if m == nil {
		return
	}
	m.PartialPasses.WithLabelValues(outcome).Inc()
}

// RecordTranscription records the duration of a speech-to-text call.
func (m *Metrics) RecordTranscription(pass string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.WithLabelValues(pass).Observe(duration.Seconds())
}

// RecordAudio records buffered audio bytes.
func (m *Metrics) RecordAudio(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.Add(float64(bytes))
}

// RecordTurn records a completed conversation turn.
func (m *Metrics) RecordTurn(channel, status string, rounds int, usage llm.Usage, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(channel, status).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(duration.Seconds())
	if status != "ok" {
		return
	}
	m.ToolRounds.Observe(float64(rounds))
	if usage.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(usage.CompletionTokens))
	}
}

// RecordToolCall records one executed tool call.
func (m *Metrics) RecordToolCall(tool string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool).Inc()
}

// RecordOrder records a placed order.
func (m *Metrics) RecordOrder() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

// RecordError records an error event sent to a client.
func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// SetActive updates the active gauges from registry sizes.
func (m *Metrics) SetActive(connections, audioSessions, orderSessions, realtime int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(connections))
	m.AudioSessionsActive.Set(float64(audioSessions))
	m.OrderSessionsActive.Set(float64(orderSessions))
	m.RealtimeActive.Set(float64(realtime))
}
