package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.Transition("custom_domain", "approved")
	r.Transition("custom_domain", "approved")
	r.Assignment("auto")
	r.Verification("lookup_failed")
	r.CacheLookup(true)
	r.CacheLookup(false)
	r.CacheLookup(false)
	r.ObserveLookup(30 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("custom_domain", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assignments.WithLabelValues("auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verifications.WithLabelValues("lookup_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))

	n, err := testutil.GatherAndCount(reg, "netqr_identity_dns_lookup_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.Transition("subdomain_request", "pending")
		r.Assignment("change")
		r.Verification("verified")
		r.ObserveLookup(time.Second)
		r.CacheLookup(true)
	})
}
