// Package metrics exports store activity as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements stores.Metrics on Prometheus vectors.
type Collector struct {
	commits    *prometheus.CounterVec
	commitKeys *prometheus.HistogramVec
	dispatches *prometheus.CounterVec
	cancelled  *prometheus.CounterVec
	mounted    prometheus.Gauge
}

// NewCollector builds the vectors and registers them with reg. A nil reg
// skips registration. Vectors already registered by an earlier collector are
// reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stores_commits_total",
				Help: "Total number of own-state commits per scope",
			},
			[]string{"scope"},
		),
		commitKeys: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stores_commit_keys",
				Help:    "Number of root keys changed by a commit",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
			[]string{"scope"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stores_dispatch_total",
				Help: "Total number of settled dispatches per action and outcome",
			},
			[]string{"action", "outcome"},
		),
		cancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stores_dispatch_cancelled_total",
				Help: "Total number of dispatches replaced or cancelled before firing",
			},
			[]string{"action"},
		),
		mounted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stores_scopes_mounted",
			Help: "Number of scopes currently mounted",
		}),
	}
	if reg == nil {
		return c, nil
	}

	var err error
	if c.commits, err = register(reg, c.commits); err != nil {
		return nil, err
	}
	if c.commitKeys, err = register(reg, c.commitKeys); err != nil {
		return nil, err
	}
	if c.dispatches, err = register(reg, c.dispatches); err != nil {
		return nil, err
	}
	if c.cancelled, err = register(reg, c.cancelled); err != nil {
		return nil, err
	}
	if c.mounted, err = register(reg, c.mounted); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

// ScopeMounted increments the mounted gauge.
func (c *Collector) ScopeMounted(string) {
	c.mounted.Inc()
}

// ScopeUnmounted decrements the mounted gauge.
func (c *Collector) ScopeUnmounted(string) {
	c.mounted.Dec()
}

// Committed counts a commit and observes how many keys it changed.
func (c *Collector) Committed(scope string, keys int) {
	c.commits.WithLabelValues(scope).Inc()
	c.commitKeys.WithLabelValues(scope).Observe(float64(keys))
}

// Dispatched counts a dispatch by outcome.
func (c *Collector) Dispatched(action, outcome string) {
	c.dispatches.WithLabelValues(action, outcome).Inc()
}

// DispatchCancelled counts a dispatch that never fired.
func (c *Collector) DispatchCancelled(action string) {
	c.cancelled.WithLabelValues(action).Inc()
}

// MountedGauge exposes the mounted scopes gauge.
func (c *Collector) MountedGauge() prometheus.Gauge {
	return c.mounted
}

// CommitsCounter returns the commit counter of scope.
func (c *Collector) CommitsCounter(scope string) prometheus.Counter {
	return c.commits.WithLabelValues(scope)
}

// DispatchCounter returns the dispatch counter for action and outcome.
func (c *Collector) DispatchCounter(action, outcome string) prometheus.Counter {
	return c.dispatches.WithLabelValues(action, outcome)
}

// CancelledCounter returns the cancelled dispatch counter of action.
func (c *Collector) CancelledCounter(action string) prometheus.Counter {
	return c.cancelled.WithLabelValues(action)
}
