package discochat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "discochat"

const (
	completionResultOK    = "ok"
	completionResultError = "error"
	completionResultEmpty = "empty"
)

// metrics groups the Prometheus instruments for a single bot instance.
// Each instance has its own registry, so tests can create as many as they
// like. All methods are safe to call on a nil *metrics.
type metrics struct {
	registry *prometheus.Registry

	completionRequests *prometheus.CounterVec
	completionLatency  prometheus.Histogram
	emptyCompletions   prometheus.Counter
	fallbacks          prometheus.Counter
	channels           prometheus.Gauge
	turns              *prometheus.CounterVec
	discordMessages    *prometheus.CounterVec
	discordConnections *prometheus.CounterVec
	commands           *prometheus.CounterVec
	apiRequests        *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		completionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "completion_requests_total",
				Help:      "Chat completion requests by result.",
			}, []string{"result"},
		),
		completionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "completion_latency_ms",
				Help:      "Chat completion request latency in milliseconds.",
				Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
			},
		),
		emptyCompletions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "empty_completions_total",
				Help:      "Completions that were empty after cleanup and had to be retried.",
			},
		),
		fallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fallback_responses_total",
				Help:      "Responses replaced with the fallback after every attempt was empty.",
			},
		),
		channels: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "channels",
				Help:      "Channels with conversation memory.",
			},
		),
		turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turns_appended_total",
				Help:      "Turns added to channel memory by role.",
			}, []string{"role"},
		),
		discordMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_messages_total",
				Help:      "Discord messages handled, by outcome.",
			}, []string{"outcome"},
		),
		discordConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_connection_events_total",
				Help:      "Discord gateway connects and disconnects.",
			}, []string{"event"},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_commands_total",
				Help:      "Slash commands by name.",
			}, []string{"command"},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_requests_total",
				Help:      "Admin API requests by route and status.",
			}, []string{"method", "route", "status"},
		),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) completion(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completionRequests.WithLabelValues(result).Inc()
	m.completionLatency.Observe(float64(elapsed.Milliseconds()))
}

func (m *metrics) emptyCompletion() {
	if m == nil {
		return
	}
	m.emptyCompletions.Inc()
}

func (m *metrics) fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *metrics) setChannels(n int) {
	if m == nil {
		return
	}
	m.channels.Set(float64(n))
}

func (m *metrics) turnAppended(role Role) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(string(role)).Inc()
}

func (m *metrics) discordMessage(outcome string) {
	if m == nil {
		return
	}
	m.discordMessages.WithLabelValues(outcome).Inc()
}

func (m *metrics) discordConnection(event string) {
	if m == nil {
		return
	}
	m.discordConnections.WithLabelValues(event).Inc()
}

func (m *metrics) command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *metrics) apiRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
