// Package metrics holds the service's prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag"

type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Stages          *prometheus.HistogramVec
	StreamFrames    *prometheus.CounterVec
	RecommendFails  *prometheus.CounterVec
	ConfigSwaps     *prometheus.CounterVec
	IndexedPoints   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
		Stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency (embed, retrieval, synthesis, ingest).",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		}, []string{"stage"}),
		StreamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Frames written to answer streams by type.",
		}, []string{"type"}),
		RecommendFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_failures_total",
			Help:      "Recommendation requests that degraded to an empty list.",
		}, []string{"engine"}),
		ConfigSwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_swaps_total",
			Help:      "Provider configuration swaps by outcome.",
		}, []string{"result"}),
		IndexedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_points",
			Help:      "Points written by the last initialize.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.RequestDuration, m.Stages, m.StreamFrames, m.RecommendFails, m.ConfigSwaps, m.IndexedPoints,
	)
	return m
}

// ObserveStage - Records the time since start under stage. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.Stages.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecommendationFailed(engine string) {
	if m == nil {
		return
	}
	m.RecommendFails.WithLabelValues(engine).Inc()
}

func (m *Metrics) ConfigSwapped(ok bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "rejected"
	}
	m.ConfigSwaps.WithLabelValues(result).Inc()
}

func (m *Metrics) Frame(frameType string) {
	if m == nil {
		return
	}
	m.StreamFrames.WithLabelValues(frameType).Inc()
}

func (m *Metrics) Indexed(n int) {
	if m == nil {
		return
	}
	m.IndexedPoints.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
