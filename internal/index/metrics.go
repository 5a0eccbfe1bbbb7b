package index

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var reopenCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nrtsearch",
	Subsystem: "index",
	Name:      "reopens_total",
}, []string{"index", "result"})

var publishedGeneration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "nrtsearch",
	Subsystem: "index",
	Name:      "published_generation",
}, []string{"index"})

var acquireWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nrtsearch",
	Subsystem: "index",
	Name:      "acquire_wait_seconds",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
}, []string{"index", "outcome"})

var writeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nrtsearch",
	Subsystem: "index",
	Name:      "write_failures_total",
}, []string{"index", "op"})

// Collectors returns the index collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{reopenCount, publishedGeneration, acquireWait, writeFailures}
}

// RegisterMetrics registers the index collectors with reg. Registering
// with the same registry twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// forgetMetrics drops the per-index series of a deleted index.
func forgetMetrics(name string) {
	publishedGeneration.DeleteLabelValues(name)
	reopenCount.DeletePartialMatch(prometheus.Labels{"index": name})
	acquireWait.DeletePartialMatch(prometheus.Labels{"index": name})
	writeFailures.DeletePartialMatch(prometheus.Labels{"index": name})
}
