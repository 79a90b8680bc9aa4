// Package metrics is the Prometheus implementation of weather.Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/i474232898/weather-series/internal/weather"
)

// Recorder records cache and query events on a Prometheus registry.
type Recorder struct {
	scans    *prometheus.CounterVec
	fetches  *prometheus.CounterVec
	resolves *prometheus.HistogramVec
	queries  *prometheus.CounterVec
}

var _ weather.Metrics = (*Recorder)(nil)

// New registers the weather series collectors on reg.
//
// Returns nil when reg is nil, which weather.Service and weather.Supervisor
// treat as metrics disabled.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return nil
	}

	return &Recorder{
		scans: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_series_store_scans_total",
				Help: "Total number of store scans by dataset and result",
			},
			[]string{"dataset", "result"}, // result: "hit", "miss"
		),
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_series_remote_fetches_total",
				Help: "Total number of remote dataset fetches by dataset and status",
			},
			[]string{"dataset", "status"}, // status: "success", "error"
		),
		resolves: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "weather_series_resolve_duration_seconds",
				Help: "Duration of cache resolves, including population on a miss",
				Buckets: []float64{
					0.001, // 1ms - cache hits
					0.005,
					0.01,
					0.05,
					0.1,
					0.5,
					1,
					5, // full dataset download
					15,
				},
			},
			[]string{"dataset", "status"},
		),
		queries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_series_queries_total",
				Help: "Total number of supervised queries by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (r *Recorder) ObserveScan(dataset string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.scans.WithLabelValues(dataset, result).Inc()
}

func (r *Recorder) ObserveFetch(dataset string, err error) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(dataset, status(err)).Inc()
}

func (r *Recorder) ObserveResolve(dataset string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.resolves.WithLabelValues(dataset, status(err)).Observe(d.Seconds())
}

func (r *Recorder) ObserveQuery(outcome string) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(outcome).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
