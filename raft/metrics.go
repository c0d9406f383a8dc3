package raft

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional observability wrapper. A nil *Metrics is valid everywhere in this
// package and every call on it is a no-op, so wiring Prometheus never becomes a hard
// dependency for embedders who only want zap logging.
type Metrics struct {
	Term                  prometheus.Gauge
	CommitIndex           prometheus.Gauge
	LastApplied           prometheus.Gauge
	Role                  *prometheus.GaugeVec
	ElectionsStarted      prometheus.Counter
	ElectionsWon          prometheus.Counter
	AppendEntriesRejected prometheus.Counter
}

// NewMetrics builds per-replica gauges/counters and, if reg is non-nil, registers them.
func NewMetrics(reg prometheus.Registerer, id uint64) *Metrics {
	labels := prometheus.Labels{"replica": fmt.Sprintf("%d", id)}

	m := &Metrics{
		Term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft", Name: "current_term", ConstLabels: labels,
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft", Name: "commit_index", ConstLabels: labels,
		}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft", Name: "last_applied_index", ConstLabels: labels,
		}),
		Role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raft", Name: "role", ConstLabels: labels,
		}, []string{"role"}),
		ElectionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "elections_started_total", ConstLabels: labels,
		}),
		ElectionsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "elections_won_total", ConstLabels: labels,
		}),
		AppendEntriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "append_entries_rejected_total", ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Term, m.CommitIndex, m.LastApplied, m.Role,
			m.ElectionsStarted, m.ElectionsWon, m.AppendEntriesRejected)
	}
	return m
}

func (m *Metrics) setRole(role Role) {
	if m == nil {
		return
	}
	for _, r := range []Role{Follower, Candidate, Leader} {
		v := 0.0
		if r == role {
			v = 1.0
		}
		m.Role.WithLabelValues(r.String()).Set(v)
	}
}

func (m *Metrics) setTerm(term uint64) {
	if m == nil {
		return
	}
	m.Term.Set(float64(term))
}

func (m *Metrics) setCommitIndex(index uint64) {
	if m == nil {
		return
	}
	m.CommitIndex.Set(float64(index))
}

func (m *Metrics) setLastApplied(index uint64) {
	if m == nil {
		return
	}
	m.LastApplied.Set(float64(index))
}

func (m *Metrics) incElectionsStarted() {
	if m == nil {
		return
	}
	m.ElectionsStarted.Inc()
}

func (m *Metrics) incElectionsWon() {
	if m == nil {
		return
	}
	m.ElectionsWon.Inc()
}

func (m *Metrics) incAppendEntriesRejected() {
	if m == nil {
		return
	}
	m.AppendEntriesRejected.Inc()
}
