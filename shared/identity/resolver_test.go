package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSubdomainHosts(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	_, err := f.svc.Assigner.ChangeTo(f.ctx, tenant.ID, "acme-co")
	require.NoError(t, err)

	for _, host := range []string{"acme-co.netqr.io", "ACME-CO.NetQR.io:443", "acme-co.netqr.io."} {
		res, err := f.svc.Hosts.ResolveHost(f.ctx, host)
		require.NoError(t, err, host)
		assert.Equal(t, tenant.ID, res.TenantID)
		assert.Equal(t, HostSubdomain, res.Kind)
		assert.Equal(t, "acme-co", res.Label)
	}

	for _, host := range []string{"netqr.io", "www.netqr.io", "a.acme-co.netqr.io", "missing.netqr.io", *tenant.Subdomain + ".netqr.io"} {
		_, err := f.svc.Hosts.ResolveHost(f.ctx, host)
		requireKind(t, err, KindNotFound)
	}

	_, err = f.svc.Hosts.ResolveHost(f.ctx, "  ")
	requireKind(t, err, KindValidation)
}

func TestResolveCustomDomainHosts(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	row, instructions, err := f.svc.Domains.RequestDomain(f.ctx, tenant.ID, "shop.example.com")
	require.NoError(t, err)

	_, err = f.svc.Hosts.ResolveHost(f.ctx, "shop.example.com")
	requireKind(t, err, KindNotFound)

	f.dns.Set("shop.example.com", instructions.Value)
	_, err = f.svc.Domains.VerifyForTenant(f.ctx, tenant.ID, "shop.example.com", "")
	require.NoError(t, err)
	_, err = f.svc.Hosts.ResolveHost(f.ctx, "shop.example.com")
	requireKind(t, err, KindNotFound)

	_, err = f.svc.Domains.Approve(f.ctx, testAdmin, row.ID)
	require.NoError(t, err)

	for _, host := range []string{"shop.example.com", "www.shop.example.com:8443"} {
		res, err := f.svc.Hosts.ResolveHost(f.ctx, host)
		require.NoError(t, err, host)
		assert.Equal(t, tenant.ID, res.TenantID)
		assert.Equal(t, HostCustomDomain, res.Kind)
		assert.Equal(t, "shop.example.com", res.Label)
	}
}
