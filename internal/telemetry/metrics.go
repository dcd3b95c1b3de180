package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_jobs_enqueued_total", Help: "Generation jobs enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	GeneratedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_jobs_generated_total", Help: "Jobs that reached the generated state"})
	FailedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_jobs_failed_total", Help: "Jobs that reached the failed state"})
	StaleCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_jobs_stale_total", Help: "Deliveries discarded as stale"})
	RetryCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "artgen_jobs_retried_total", Help: "Deliveries returned to the queue for retry"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "artgen_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "artgen_inflight", Help: "Jobs currently leased by workers"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			GeneratedCounter,
			FailedCounter,
			StaleCounter,
			RetryCounter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
