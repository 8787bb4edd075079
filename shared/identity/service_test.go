package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

func TestStats(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)

	for _, label := range []string{"one-label", "two-label", "three-label"} {
		_, err := f.svc.Requests.Submit(f.ctx, tenant.ID, label)
		require.NoError(t, err)
	}
	page, err := f.svc.Requests.ListForTenant(f.ctx, tenant.ID, models.Page{})
	require.NoError(t, err)
	_, err = f.svc.Requests.Reject(f.ctx, testAdmin, page.Items[0].ID, "")
	require.NoError(t, err)

	_, instructions, err := f.svc.Domains.RequestDomain(f.ctx, tenant.ID, "example.com")
	require.NoError(t, err)
	_, _, err = f.svc.Domains.RequestDomain(f.ctx, tenant.ID, "example.org")
	require.NoError(t, err)
	f.dns.Set("example.com", instructions.Value)
	_, err = f.svc.Domains.VerifyForTenant(f.ctx, tenant.ID, "example.com", "")
	require.NoError(t, err)

	stats, err := f.svc.Stats(f.ctx, testAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Pending: 2, Rejected: 1, Total: 3}, stats.SubdomainRequests)
	assert.Equal(t, StatusCounts{Pending: 2, Total: 2}, stats.CustomDomains)
	assert.Equal(t, int64(1), stats.VerifiedPendingDomains)

	_, err = f.svc.Stats(f.ctx, models.Principal{ID: "u1", Email: "someone@acme.test"})
	requireKind(t, err, KindForbidden)
}
