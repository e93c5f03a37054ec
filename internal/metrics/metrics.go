// Package metrics exposes VictoriaMetrics counters for the rendezvous
// broker: a single lazily-initialized metrics.Set with one field per
// series.
package metrics

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds every series the dispatcher and allocator report.
type Metrics struct {
	set *metrics.Set

	KnocksTotal struct {
		success        *metrics.Counter
		overflow       *metrics.Counter
		reject_invalid *metrics.Counter
	}
	BindsTotal struct {
		success           *metrics.Counter
		reject_duplicate  *metrics.Counter
		reject_port_taken *metrics.Counter
		reject_invalid    *metrics.Counter
	}
	ConnectsTotal struct {
		success        *metrics.Counter
		reject_offline *metrics.Counter
		reject_invalid *metrics.Counter
	}
	ClientsCurrent  *metrics.Counter
	AliasesCurrent  *metrics.Counter
	LivenessTimeout *metrics.Counter

	// AllocDuration tracks how long allocator calls (CreateIP, CreatePort,
	// ClaimPort) take, including any wait for the allocator's mutex, in
	// seconds.
	AllocDuration *metrics.Histogram
}

var (
	initOnce sync.Once
	shared   *Metrics
)

// Get returns the process-wide Metrics value, initializing it on first use.
func Get() *Metrics {
	initOnce.Do(func() {
		m := &Metrics{set: metrics.NewSet()}
		m.KnocksTotal.success = m.set.NewCounter(`rendezvous_knocks_total{result="success"}`)
		m.KnocksTotal.overflow = m.set.NewCounter(`rendezvous_knocks_total{result="overflow"}`)
		m.KnocksTotal.reject_invalid = m.set.NewCounter(`rendezvous_knocks_total{result="reject_invalid"}`)
		m.BindsTotal.success = m.set.NewCounter(`rendezvous_binds_total{result="success"}`)
		m.BindsTotal.reject_duplicate = m.set.NewCounter(`rendezvous_binds_total{result="reject_duplicate"}`)
		m.BindsTotal.reject_port_taken = m.set.NewCounter(`rendezvous_binds_total{result="reject_port_taken"}`)
		m.BindsTotal.reject_invalid = m.set.NewCounter(`rendezvous_binds_total{result="reject_invalid"}`)
		m.ConnectsTotal.success = m.set.NewCounter(`rendezvous_connects_total{result="success"}`)
		m.ConnectsTotal.reject_offline = m.set.NewCounter(`rendezvous_connects_total{result="reject_offline"}`)
		m.ConnectsTotal.reject_invalid = m.set.NewCounter(`rendezvous_connects_total{result="reject_invalid"}`)
		m.ClientsCurrent = m.set.NewCounter(`rendezvous_clients_current`)
		m.AliasesCurrent = m.set.NewCounter(`rendezvous_aliases_current`)
		m.LivenessTimeout = m.set.NewCounter(`rendezvous_liveness_timeouts_total`)
		m.AllocDuration = m.set.NewHistogram(`rendezvous_alloc_duration_seconds`)
		metrics.RegisterSet(m.set)
		shared = m
	})
	return shared
}

// WritePrometheus writes every registered set, including process metrics,
// in the text exposition format.
func WritePrometheus(w io.Writer) {
	metrics.WriteProcessMetrics(w)
	metrics.WritePrometheus(w, true)
}
