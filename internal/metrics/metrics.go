// Package metrics exposes pipeline counters as Prometheus collectors.
//
// All methods are safe on a nil *Metrics so stages can run without a registry.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchups"

var ErrRegister = errors.New("metrics register failed")

// Metrics groups the collectors used across the pipeline.
type Metrics struct {
	registry prometheus.Gatherer

	PossessionsSeen     prometheus.Counter
	PossessionsExcluded *prometheus.CounterVec
	TrainingRows        prometheus.Gauge
	Fallbacks           *prometheus.CounterVec
	GateFailures        *prometheus.CounterVec
	Divergences         *prometheus.CounterVec
	SamplerProgress     *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		PossessionsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "possessions_seen_total",
			Help: "Possessions read by build-matchups.",
		}),
		PossessionsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "possessions_excluded_total",
			Help: "Possessions dropped before becoming training rows, by reason.",
		}, []string{"reason"}),
		TrainingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "training_rows",
			Help: "Training rows produced by the last build.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "supercluster_fallbacks_total",
			Help: "Possession sides assigned by the hash fallback.",
		}, []string{"side"}),
		GateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gate_check_failures_total",
			Help: "Failed gate checks, by gate and check name.",
		}, []string{"gate", "check"}),
		Divergences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sampler_divergences_total",
			Help: "Divergent transitions after warmup, by chain.",
		}, []string{"chain"}),
		SamplerProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sampler_iteration",
			Help: "Current iteration of each chain (warmup included).",
		}, []string{"chain"}),
	}
	for _, c := range []prometheus.Collector{
		m.PossessionsSeen, m.PossessionsExcluded, m.TrainingRows, m.Fallbacks,
		m.GateFailures, m.Divergences, m.SamplerProgress,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Join(ErrRegister, err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Seen counts one possession read.
func (m *Metrics) Seen() {
	if m == nil {
		return
	}
	m.PossessionsSeen.Inc()
}

// Excluded counts one dropped possession.
func (m *Metrics) Excluded(reason string) {
	if m == nil {
		return
	}
	m.PossessionsExcluded.WithLabelValues(reason).Inc()
}

// Rows records the size of the training set.
func (m *Metrics) Rows(n int) {
	if m == nil {
		return
	}
	m.TrainingRows.Set(float64(n))
}

// Fallback counts one hash-fallback assignment on a side.
func (m *Metrics) Fallback(side string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(side).Inc()
}

// GateFailed counts one failed check.
func (m *Metrics) GateFailed(gate, check string) {
	if m == nil {
		return
	}
	m.GateFailures.WithLabelValues(gate, check).Inc()
}

// Divergence counts one divergent transition.
func (m *Metrics) Divergence(chain string) {
	if m == nil {
		return
	}
	m.Divergences.WithLabelValues(chain).Inc()
}

// Progress records the current iteration of a chain.
func (m *Metrics) Progress(chain string, iter int) {
	if m == nil {
		return
	}
	m.SamplerProgress.WithLabelValues(chain).Set(float64(iter))
}
