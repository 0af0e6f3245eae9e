package orchestrator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

type metrics struct {
	registry     *prometheus.Registry
	jobs         *prometheus.GaugeVec
	workersAlive prometheus.Gauge
	restarts     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "droidpilot",
			Name:      "jobs",
			Help:      "Ledger jobs by status.",
		}, []string{"status"}),
		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "droidpilot",
			Name:      "workers_alive",
			Help:      "Worker processes currently running.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidpilot",
			Name:      "worker_restarts_total",
			Help:      "Worker processes restarted after an unexpected exit.",
		}),
	}
	m.registry.MustRegister(m.jobs, m.workersAlive, m.restarts)
	return m
}

func (m *metrics) observeStats(s schemas.Stats) {
	for _, st := range schemas.AllStatuses {
		m.jobs.WithLabelValues(string(st)).Set(float64(s.Count(st)))
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
