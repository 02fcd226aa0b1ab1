// Package metrics exposes LEONA's Prometheus collectors and the runtime
// sampler that feeds the gauge family.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Requests counts API requests by method and endpoint.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leona_requests_total",
		Help: "Total API requests.",
	}, []string{"method", "endpoint"})

	// ResponseDuration tracks end-to-end request latency per endpoint.
	ResponseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leona_response_duration_seconds",
		Help:    "Request latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// AgentExecution tracks handler execution time.
	AgentExecution = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leona_agent_execution_seconds",
		Help:    "Handler execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})

	// Errors counts errors by type.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leona_errors_total",
		Help: "Total errors by type.",
	}, []string{"error_type"})

	memoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leona_memory_usage_bytes",
		Help: "Allocated heap bytes.",
	})

	goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leona_goroutines",
		Help: "Current goroutine count.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAgent records one handler execution.
func ObserveAgent(agent string, d time.Duration) {
	AgentExecution.WithLabelValues(agent).Observe(d.Seconds())
}

// Sampler periodically refreshes the runtime gauges.
type Sampler struct {
	interval time.Duration
}

// NewSampler creates a Sampler with the default 15s interval.
func NewSampler() *Sampler {
	return &Sampler{interval: 15 * time.Second}
}

// Run samples the runtime gauges until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.Set(float64(m.HeapAlloc))
	goroutines.Set(float64(runtime.NumGoroutine()))
}
