// Package metrics exposes run counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	KindRun   = "run"
	KindSweep = "sweep"
)

type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	storeErrors   prometheus.Counter
	lastEnergy    prometheus.Gauge
	lastFinalTemp prometheus.Gauge
	lastEff       prometheus.Gauge
}

// New registers the collectors on a private registry so several instances
// can live in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tanksim",
			Name:      "runs_total",
			Help:      "Simulations and sweeps by outcome.",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tanksim",
			Name:      "run_duration_seconds",
			Help:      "Wall time of simulations and sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tanksim",
			Name:      "store_errors_total",
			Help:      "Results that could not be persisted or published.",
		}),
		lastEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tanksim",
			Name:      "last_energy_consumption_joules",
			Help:      "Total electrical energy of the latest run.",
		}),
		lastFinalTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tanksim",
			Name:      "last_final_tank_temperature_celsius",
			Help:      "Tank temperature at the end of the latest run.",
		}),
		lastEff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tanksim",
			Name:      "last_system_efficiency_percent",
			Help:      "System efficiency of the latest run.",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.storeErrors,
		m.lastEnergy,
		m.lastFinalTemp,
		m.lastEff,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Observe records one simulation or sweep.
func (m *Metrics) Observe(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(kind, outcome(err)).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetLatest publishes the scalar outcome of the latest successful run.
func (m *Metrics) SetLatest(energyJ, finalTempC, efficiency float64) {
	if m == nil {
		return
	}
	m.lastEnergy.Set(energyJ)
	m.lastFinalTemp.Set(finalTempC)
	m.lastEff.Set(efficiency)
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
