// Package metrics exposes Prometheus instrumentation for the detection
// pipeline and the alert sinks.
package metrics

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the detection engine.
type Metrics struct {
	// Counters
	MessagesAnalyzed *prometheus.CounterVec
	AttacksDetected  *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	SinkDeliveries   *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ClassifierCalls  *prometheus.CounterVec

	// Gauges
	TrackedDevices prometheus.Gauge
	ActiveGroups   prometheus.Gauge
	QueueDepth     *prometheus.GaugeVec

	// Histograms
	AnalyzeDuration  prometheus.Histogram
	SinkFlushLatency *prometheus.HistogramVec
}

// Config holds configuration for the metrics server.
type Config struct {
	Enabled bool
	Addr    string
}

// LoadConfig loads metrics configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Enabled: getBool("BTIDS_METRICS_ENABLED", false),
		Addr:    getOr("BTIDS_METRICS_ADDR", "127.0.0.1:9090"),
	}
}

// NewMetrics creates and registers all engine metrics. Call it once per
// process; use GetMetrics for shared access.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesAnalyzed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_messages_analyzed_total",
				Help: "Messages analyzed, by verdict and deciding source",
			},
			[]string{"verdict", "source"},
		),

		AttacksDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_attacks_detected_total",
				Help: "Attack verdicts, by attack type",
			},
			[]string{"attack_type"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_notifications_total",
				Help: "Grouped attack notifications emitted, by attack type",
			},
			[]string{"attack_type"},
		),

		SinkDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_sink_deliveries_total",
				Help: "Notifications delivered to an alert sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_sink_errors_total",
				Help: "Errors writing to an alert sink",
			},
			[]string{"sink", "error_type"},
		),

		ClassifierCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btids_classifier_calls_total",
				Help: "Classifier invocations, by classifier and outcome",
			},
			[]string{"classifier", "outcome"},
		),

		TrackedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "btids_tracked_devices",
				Help: "Devices with live history in the state tracker",
			},
		),

		ActiveGroups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "btids_active_attack_groups",
				Help: "Attack groups inside their grouping or cooldown window",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "btids_sink_queue_depth",
				Help: "Current depth of an alert sink queue",
			},
			[]string{"sink"},
		),

		AnalyzeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "btids_analyze_duration_seconds",
				Help:    "End-to-end latency of one message analysis",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
		),

		SinkFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "btids_sink_flush_latency_seconds",
				Help:    "Latency of flushing a batch to an alert sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
	}

	prometheus.MustRegister(m.MessagesAnalyzed)
	prometheus.MustRegister(m.AttacksDetected)
	prometheus.MustRegister(m.Notifications)
	prometheus.MustRegister(m.SinkDeliveries)
	prometheus.MustRegister(m.SinkErrors)
	prometheus.MustRegister(m.ClassifierCalls)
	prometheus.MustRegister(m.TrackedDevices)
	prometheus.MustRegister(m.ActiveGroups)
	prometheus.MustRegister(m.QueueDepth)
	prometheus.MustRegister(m.AnalyzeDuration)
	prometheus.MustRegister(m.SinkFlushLatency)

	return m
}

// Server serves /metrics and /healthz.
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server.
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{server: srv, config: config}
}

// Start starts the metrics server in a separate goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (BTIDS_METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		log.Printf("metrics: HTTP server listening on %s", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	log.Printf("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// GetMetrics returns the process-wide metrics instance, creating it on
// first use.
func GetMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// Convenience methods for common operations.

func (m *Metrics) ObserveAnalyze(verdict, source string, duration time.Duration) {
	m.MessagesAnalyzed.WithLabelValues(verdict, source).Inc()
	m.AnalyzeDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAttack(attackType string) {
	m.AttacksDetected.WithLabelValues(attackType).Inc()
}

func (m *Metrics) RecordNotification(attackType string) {
	m.Notifications.WithLabelValues(attackType).Inc()
}

func (m *Metrics) RecordSinkDelivery(sink string) {
	m.SinkDeliveries.WithLabelValues(sink).Inc()
}

func (m *Metrics) RecordSinkError(sink, errorType string) {
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) RecordClassifierCall(classifier, outcome string) {
	m.ClassifierCalls.WithLabelValues(classifier, outcome).Inc()
}

func (m *Metrics) SetTrackedDevices(n float64) {
	m.TrackedDevices.Set(n)
}

func (m *Metrics) SetActiveGroups(n float64) {
	m.ActiveGroups.Set(n)
}

func (m *Metrics) SetQueueDepth(sink string, depth float64) {
	m.QueueDepth.WithLabelValues(sink).Set(depth)
}

func (m *Metrics) ObserveSinkFlush(sink string, duration time.Duration) {
	m.SinkFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}
