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

// Metrics stores Prometheus collectors used by the API, worker and scanner.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	itemsProcessedTotal   *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	workerInflight        prometheus.Gauge
	batchesSubmittedTotal *prometheus.CounterVec
	eventPublishFailures  *prometheus.CounterVec
	itemsRequeuedTotal    prometheus.Counter
	itemsExpiredTotal     prometheus.Counter
	deliveryRetriesTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "batch_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "items_processed_total",
				Help:      "Total number of items that reached a terminal status.",
			},
			[]string{"status"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "batch_engine",
				Name:      "delivery_duration_seconds",
				Help:      "Delivery call duration in seconds grouped by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "batch_engine",
				Name:      "worker_inflight",
				Help:      "Current number of items being processed by this worker.",
			},
		),
		batchesSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "batches_submitted_total",
				Help:      "Total number of uploaded batches grouped by submission outcome.",
			},
			[]string{"status"},
		),
		eventPublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "events_publish_failures_total",
				Help:      "Total number of progress events the sink refused.",
			},
			[]string{"event"},
		),
		itemsRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "items_requeued_total",
				Help:      "Total number of stale pending items put back on the queue.",
			},
		),
		itemsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "items_expired_total",
				Help:      "Total number of items failed after staying in processing too long.",
			},
		),
		deliveryRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batch_engine",
				Name:      "delivery_retries_total",
				Help:      "Total number of delivery calls repeated after a transient error.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsProcessedTotal,
		m.deliveryDuration,
		m.workerInflight,
		m.batchesSubmittedTotal,
		m.eventPublishFailures,
		m.itemsRequeuedTotal,
		m.itemsExpiredTotal,
		m.deliveryRetriesTotal,
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncItemProcessed(status string) {
	if m == nil {
		return
	}
	m.itemsProcessedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeLabel(outcome)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncBatchSubmitted(status string) {
	if m == nil {
		return
	}
	m.batchesSubmittedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncEventPublishFailure(event string) {
	if m == nil {
		return
	}
	m.eventPublishFailures.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncItemRequeued() {
	if m == nil {
		return
	}
	m.itemsRequeuedTotal.Inc()
}

func (m *Metrics) IncItemExpired() {
	if m == nil {
		return
	}
	m.itemsExpiredTotal.Inc()
}

func (m *Metrics) IncDeliveryRetry() {
	if m == nil {
		return
	}
	m.deliveryRetriesTotal.Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
