// Package collector is the progress/metrics sink named in spec.md §6: a
// scoped context plus update(metric, delta, total) that never affects
// correctness. Grounded on the teacher's internal/metrics.Collector, here
// reshaped from a fixed set of named gauges into an open, string-keyed
// gauge vector so a run over an arbitrary number of schemas doesn't need a
// metric predeclared per schema name.
package collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes Prometheus gauges keyed by (scope, metric).
type Collector struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	gauges   *prometheus.GaugeVec
}

// New creates a Collector with its own private registry, rather than the
// teacher's practice of registering straight onto the default
// prometheus.Registerer: one process can legitimately build more than one
// Collector (one per test case, for instance), and MustRegister against a
// shared registerer would panic on the second one.
func New() *Collector {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "normalize_progress",
		Help: "Normalize stage progress counters, scoped by run and metric name.",
	}, []string{"scope", "metric"})
	reg.MustRegister(g)
	return &Collector{registry: reg, gauges: g}
}

// Registry exposes the Collector's private registry, e.g. for a
// /metrics HTTP handler (promhttp.HandlerFor(c.Registry(), ...)).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Scope returns a handle bound to one named phase of work (spec.md §6's
// `collector(name)`), plus a func to close it. The teacher's Prometheus
// metrics have no notion of scopes, so "closing" here is a no-op kept for
// symmetry with call sites that use `defer done()`.
func (c *Collector) Scope(name string) (*Scope, func()) {
	return &Scope{parent: c, name: name}, func() {}
}

// Scope is one named progress context, e.g. "Normalize orders in 1690.5".
type Scope struct {
	parent *Collector
	name   string
}

// Update adds delta to the gauge for metric within this scope, or, when
// total is given, sets the gauge to total and does not apply delta
// (spec.md §6: update(metric_name, delta, total=None)).
func (s *Scope) Update(metric string, delta int, total ...int) {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	g := s.parent.gauges.WithLabelValues(s.name, metric)
	if len(total) > 0 {
		g.Set(float64(total[0]))
		return
	}
	g.Add(float64(delta))
}
