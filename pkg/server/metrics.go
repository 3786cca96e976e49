package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus instruments, registered on a private
// registry so tests can create servers without collector name collisions.
type metrics struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regiond_checks_total",
				Help: "Completed checks by region, check kind, and outcome.",
			},
			[]string{"region", "check", "outcome"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regiond_probe_duration_seconds",
				Help:    "Wall time of probe execution by check kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
	}

	m.registry.MustRegister(
		m.checksTotal,
		m.probeDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
