package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the assistant.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: outcome (completed|errored|disconnected)
	TurnCounter *prometheus.CounterVec

	// ToolCallCounter counts tool dispatches.
	// Labels: tool_name, status
	ToolCallCounter *prometheus.CounterVec

	// ModelDuration measures one model generation in seconds.
	// Labels: model
	ModelDuration *prometheus.HistogramVec

	// TraceWriteFailures counts span writes that failed.
	// Labels: phase (start|seal|retry)
	TraceWriteFailures *prometheus.CounterVec

	// ActiveStreams tracks open turn streams.
	// Labels: transport (sse|ws)
	ActiveStreams *prometheus.GaugeVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_turns_total",
				Help: "Total number of chat turns by outcome",
			},
			[]string{"outcome"},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_calls_total",
				Help: "Total number of tool calls by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ModelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_model_generation_duration_seconds",
				Help:    "Duration of model generations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		TraceWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_trace_write_failures_total",
				Help: "Total number of failed span writes",
			},
			[]string{"phase"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assistant_active_streams",
				Help: "Current number of open turn streams",
			},
			[]string{"transport"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// TurnFinished records the outcome of a turn.
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
}

// ToolCalled records a tool dispatch.
func (m *Metrics) ToolCalled(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
}

// ModelObserved records the duration of one generation.
func (m *Metrics) ModelObserved(model string, seconds float64) {
	if m == nil {
		return
	}
	m.ModelDuration.WithLabelValues(model).Observe(seconds)
}

// TraceWriteFailed records a failed span write.
func (m *Metrics) TraceWriteFailed(phase string) {
	if m == nil {
		return
	}
	m.TraceWriteFailures.WithLabelValues(phase).Inc()
}

// StreamOpened increments the open stream gauge and returns its release func.
func (m *Metrics) StreamOpened(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ActiveStreams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// HTTPRequest records a served HTTP request.
func (m *Metrics) HTTPRequest(method, path, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, status).Inc()
}
