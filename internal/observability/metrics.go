package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "beachcheck_push"

// Delivery paths used as the "path" label.
const (
	PathOutbox = "outbox"
	PathDirect = "direct"
)

// Metrics stores Prometheus collectors used by the poller, the dispatch
// workers and the ops HTTP server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	outboxEventsTotal        *prometheus.CounterVec
	outboxPollCyclesTotal    *prometheus.CounterVec
	outboxPollDuration       prometheus.Histogram
	outboxEvents             *prometheus.GaugeVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	gatewaySendDuration      *prometheus.HistogramVec
	bookkeepingFailuresTotal *prometheus.CounterVec
	gatewayCircuitState      *prometheus.GaugeVec
	dispatchInflight         prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		outboxEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "outbox_events_processed_total",
				Help:      "Outbox events handled by the publisher grouped by outcome.",
			},
			[]string{"outcome"},
		),
		outboxPollCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "outbox_poll_cycles_total",
				Help:      "Outbox poll cycles grouped by result.",
			},
			[]string{"result"},
		),
		outboxPollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "outbox_poll_duration_seconds",
				Help:      "Duration of one outbox poll cycle in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		outboxEvents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "outbox_events",
				Help:      "Outbox events currently stored grouped by status.",
			},
			[]string{"status"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of push notifications confirmed delivered.",
			},
			[]string{"path"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of push notifications that ended in failed state.",
			},
			[]string{"path", "reason"},
		),
		gatewaySendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_send_duration_seconds",
				Help:      "Push gateway send duration in seconds grouped by path.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"path"},
		),
		bookkeepingFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bookkeeping_failures_total",
				Help:      "Local writes that failed after the gateway outcome was known. Each one needs manual reconciliation.",
			},
			[]string{"path", "stage"},
		),
		gatewayCircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_circuit_state",
				Help:      "Push gateway circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "direct_dispatch_inflight",
				Help:      "Current number of in-flight direct dispatches.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.outboxEventsTotal,
		m.outboxPollCyclesTotal,
		m.outboxPollDuration,
		m.outboxEvents,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.gatewaySendDuration,
		m.bookkeepingFailuresTotal,
		m.gatewayCircuitState,
		m.dispatchInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncOutboxEvent(outcome string) {
	if m == nil {
		return
	}
	m.outboxEventsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveOutboxPoll(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outboxPollCyclesTotal.WithLabelValues(result).Inc()
	m.outboxPollDuration.Observe(nonNegativeSeconds(duration))
}

// SetOutboxEventCounts replaces the per-status gauge values.
func (m *Metrics) SetOutboxEventCounts(counts map[string]int64) {
	if m == nil {
		return
	}
	m.outboxEvents.Reset()
	for status, count := range counts {
		m.outboxEvents.WithLabelValues(normalizeLabel(status)).Set(float64(count))
	}
}

func (m *Metrics) IncNotificationSent(path string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(path)).Inc()
}

func (m *Metrics) IncNotificationFailed(path string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(path), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveGatewaySend(path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewaySendDuration.WithLabelValues(normalizeLabel(path)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncBookkeepingFailure(path string, stage string) {
	if m == nil {
		return
	}
	m.bookkeepingFailuresTotal.WithLabelValues(normalizeLabel(path), normalizeLabel(stage)).Inc()
}

// SetCircuitState records a breaker transition. Unknown state names map to
// closed.
func (m *Metrics) SetCircuitState(name string, state string) {
	if m == nil {
		return
	}
	value := 0.0
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.gatewayCircuitState.WithLabelValues(normalizeLabel(name)).Set(value)
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
