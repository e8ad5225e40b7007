package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SolveTotal counts analysis calls by backend and outcome ("success" or an error kind).
	SolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvascalc",
		Subsystem: "solver",
		Name:      "solve_total",
		Help:      "Total number of image analysis calls, labeled by backend and result.",
	}, []string{"backend", "result"})

	// SolveDurationSeconds is the model round trip plus parsing, per backend.
	SolveDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canvascalc",
		Subsystem: "solver",
		Name:      "solve_duration_seconds",
		Help:      "Time spent in one image analysis call (model request + parsing).",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"backend"})

	// RecordsReturned is the number of records decoded from successful replies.
	RecordsReturned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "canvascalc",
		Subsystem: "solver",
		Name:      "records_returned",
		Help:      "Number of records decoded from a successful model reply.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})

	// ArithmeticCorrectionsTotal counts model results replaced by the local calculator.
	ArithmeticCorrectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "canvascalc",
		Subsystem: "solver",
		Name:      "arithmetic_corrections_total",
		Help:      "Total number of numeric results replaced after local recomputation.",
	})

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvascalc",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests served, labeled by route and status code.",
	}, []string{"route", "code"})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SolveTotal,
			SolveDurationSeconds,
			RecordsReturned,
			ArithmeticCorrectionsTotal,
			HTTPRequestsTotal,
		)
	})
}

// ObserveSolve records the outcome of one analysis call
func ObserveSolve(backend, result string, started time.Time, records int) {
	SolveTotal.WithLabelValues(backend, result).Inc()
	SolveDurationSeconds.WithLabelValues(backend).Observe(time.Since(started).Seconds())
	if result == "success" {
		RecordsReturned.Observe(float64(records))
	}
}
