// Package metrics exposes Prometheus metrics for the identity workflows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netqr_identity"

// Registry holds the identity metrics. A nil *Registry is valid and records nothing.
type Registry struct {
	transitions    *prometheus.CounterVec
	assignments    *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	lookupDuration prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
}

// NewRegistry creates the metrics and registers them with reg
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Moderation state transitions by entity and resulting status.",
		}, []string{"entity", "status"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subdomain_assignments_total",
			Help:      "Subdomain writes by kind (auto, backfill, change).",
		}, []string{"kind"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_verifications_total",
			Help:      "Custom domain DNS verification attempts by outcome.",
		}, []string{"outcome"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dns_lookup_duration_seconds",
			Help:      "TXT lookup latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_cache_lookups_total",
			Help:      "Gateway host cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
	reg.MustRegister(r.transitions, r.assignments, r.verifications, r.lookupDuration, r.cacheLookups)
	return r
}

func (r *Registry) Transition(entity, status string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(entity, status).Inc()
}

func (r *Registry) Assignment(kind string) {
	if r == nil {
		return
	}
	r.assignments.WithLabelValues(kind).Inc()
}

func (r *Registry) Verification(outcome string) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveLookup(d time.Duration) {
	if r == nil {
		return
	}
	r.lookupDuration.Observe(d.Seconds())
}

func (r *Registry) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}
