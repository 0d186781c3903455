// Package metrics defines bazaar's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so callers can leave metrics unwired in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bazaar"

// Metrics owns a private registry so multiple instances never collide (tests, embedded use).
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	messagesSent   prometheus.Counter
	sendRejected   *prometheus.CounterVec
	notifyFailures prometheus.Counter

	polls           *prometheus.CounterVec
	longPollWaiters prometheus.Gauge
	onlineUsers     prometheus.Gauge
}

// New registers every collector plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"route"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "messages_sent_total",
			Help:      "Messages persisted.",
		}),
		sendRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "send_rejected_total",
			Help:      "Send requests rejected by validation, by reason code.",
		}, []string{"reason"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "notify_failures_total",
			Help:      "New-message hand-offs that failed.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "polls_total",
			Help:      "Poll outcomes by kind (short, long) and outcome (data, empty, timeout, canceled, capacity, error).",
		}, []string{"kind", "outcome"}),
		longPollWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "long_poll_waiters",
			Help:      "Long-poll requests currently held open.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Users seen within the presence threshold at the last sweep.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.messagesSent,
		m.sendRejected,
		m.notifyFailures,
		m.polls,
		m.longPollWaiters,
		m.onlineUsers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) SendRejected(reason string) {
	if m == nil {
		return
	}
	m.sendRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) Poll(kind, outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(kind, outcome).Inc()
}

// WaiterEnter and WaiterExit bracket a held long-poll request.
func (m *Metrics) WaiterEnter() {
	if m == nil {
		return
	}
	m.longPollWaiters.Inc()
}

func (m *Metrics) WaiterExit() {
	if m == nil {
		return
	}
	m.longPollWaiters.Dec()
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
