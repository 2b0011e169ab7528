// Package metrics holds the prometheus collectors for a mint run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "origins_minter"

// Metrics groups the collectors updated by the gas oracle and the workers.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	GasWaits      prometheus.Counter
	GasFetches    *prometheus.CounterVec
	GasPriceGwei  prometheus.Gauge
	ConfirmTimeS  prometheus.Histogram
	ActiveWorkers prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_outcomes_total",
			Help:      "Terminal outcomes per processed account.",
		}, []string{"mode", "outcome"}),
		GasWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_waits_total",
			Help:      "Times a worker slept because gas exceeded the ceiling.",
		}),
		GasFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_fetches_total",
			Help:      "Gas price fetches by result.",
		}, []string{"result"}),
		GasPriceGwei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_price_gwei",
			Help:      "Most recently fetched gas price.",
		}),
		ConfirmTimeS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast to terminal receipt state.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 180},
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers still processing their group.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.GasWaits, m.GasFetches, m.GasPriceGwei, m.ConfirmTimeS, m.ActiveWorkers)
	}
	return m
}
