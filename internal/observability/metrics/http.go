package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatRequestsTotal *prometheus.CounterVec
	chatDuration      *prometheus.HistogramVec
	foundRecords      *prometheus.HistogramVec
	rateLimitedTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wcb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wcb",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wcb",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wcb",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat requests by delivery outcome.",
		},
		[]string{"service", "outcome"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wcb",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	foundRecords := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wcb",
			Subsystem: "chat",
			Name:      "found_records",
			Help:      "Distribution of matched records per answered question.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wcb",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatRequestsTotal,
		chatDuration,
		foundRecords,
		rateLimitedTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		chatRequestsTotal: chatRequestsTotal,
		chatDuration:      chatDuration,
		foundRecords:      foundRecords,
		rateLimitedTotal:  rateLimitedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &metricsRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/get_result/"):
		return "/get_result/{job_id}"
	default:
		return path
	}
}

// RecordChat counts one chat request by delivery outcome: queued, sync,
// cached, intent or show_more.
func (m *HTTPServerMetrics) RecordChat(service, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, outcome).Inc()
	m.chatDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

// RecordFoundRecords observes how many records matched a completed answer.
func (m *HTTPServerMetrics) RecordFoundRecords(service string, count int) {
	m.foundRecords.WithLabelValues(service).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordRateLimited(service string) {
	m.rateLimitedTotal.WithLabelValues(service).Inc()
}

type metricsRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *metricsRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *metricsRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *metricsRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
