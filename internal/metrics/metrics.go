// Package metrics exposes Prometheus collectors for transaction ingestion.
//
// Collectors are registered on a caller-supplied registerer rather than the
// global default so tests and embedded engines do not collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txq"

// Collectors groups every metric the engine reports.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	Applied      prometheus.Counter
	Duplicates   prometheus.Counter
	Passes       prometheus.Counter
	IngestFaults prometheus.Counter
	StoreErrors  prometheus.Counter
	Pending      *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
// It panics if a collector with the same name is already registered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Applied:      newCounter("applied_total", "Transactions applied to their state."),
		Duplicates:   newCounter("duplicates_total", "Deliveries dropped because the transaction was already applied."),
		Passes:       newCounter("passes_total", "Resolution passes that applied at least one transaction."),
		IngestFaults: newCounter("ingest_faults_total", "Deliveries that arrived with an upstream error."),
		StoreErrors:  newCounter("store_errors_total", "Applied transactions that could not be persisted."),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "Transactions waiting on unapplied parents.",
		}, []string{"state_uri"}),
	}
	reg.MustRegister(c.Applied, c.Duplicates, c.Passes, c.IngestFaults, c.StoreErrors, c.Pending)
	return c
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// ObservePass records one resolution pass for stateURI. Passes that only
// dropped duplicates are not counted as passes.
func (c *Collectors) ObservePass(stateURI string, applied, duplicates, pending int) {
	if c == nil {
		return
	}
	if applied > 0 {
		c.Passes.Inc()
	}
	c.Applied.Add(float64(applied))
	c.Duplicates.Add(float64(duplicates))
	c.Pending.WithLabelValues(stateURI).Set(float64(pending))
}

// SetPending sets the pending gauge for stateURI.
func (c *Collectors) SetPending(stateURI string, pending int) {
	if c == nil {
		return
	}
	c.Pending.WithLabelValues(stateURI).Set(float64(pending))
}

// IngestFault counts a delivery that carried an upstream error.
func (c *Collectors) IngestFault() {
	if c == nil {
		return
	}
	c.IngestFaults.Inc()
}

// StoreError counts an applied transaction that failed to persist.
func (c *Collectors) StoreError() {
	if c == nil {
		return
	}
	c.StoreErrors.Inc()
}
