package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/dnsverify"
	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/store"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

const rootDomain = "netqr.io"

type echoed struct {
	Path     string `json:"path"`
	TenantID string `json:"tenant_id"`
	HostKind string `json:"host_kind"`
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoed{
			Path:     r.URL.Path,
			TenantID: r.Header.Get("X-Tenant-ID"),
			HostKind: r.Header.Get("X-Tenant-Host-Kind"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type publishFunc func(ctx context.Context, event identity.Event) error

func (f publishFunc) Publish(ctx context.Context, event identity.Event) error { return f(ctx, event) }

type gatewayFixture struct {
	router *gin.Engine
	svc    *identity.Service
	dns    *dnsverify.Static
	redis  *miniredis.Miniredis
	cache  *utils.HostCache
}

// newGatewayFixture wires the gateway to an in-memory store. Identity events are applied to
// the host cache synchronously, standing in for the kafka consumer.
func newGatewayFixture(t *testing.T, invalidate bool) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := utils.NewHostCache(client, time.Minute, nil)

	opts := identity.Options{Logger: logger}
	if invalidate {
		inv := NewInvalidator(cache, rootDomain, logger)
		opts.Publisher = publishFunc(inv.Handle)
	}

	st := store.NewMemoryStore()
	dns := dnsverify.NewStatic()
	svc := identity.NewService(st, dns, identity.NewEmailAllowList("ops@netqr.io"),
		identity.Config{RootDomain: rootDomain, LookupTimeout: time.Second}, opts)

	clients := &ServiceClients{
		TenantService: NewServiceClient(echoServer(t).URL),
		AppService:    NewServiceClient(echoServer(t).URL),
	}
	hosts := NewHostRouter(svc.Hosts, cache, logger)
	router := setupRouter(hosts, clients, promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}), logger)
	return &gatewayFixture{router: router, svc: svc, dns: dns, redis: mr, cache: cache}
}

func (f *gatewayFixture) get(t *testing.T, host, path string, header http.Header) (int, echoed, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body echoed
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body, w.Body.String()
}

func TestSubdomainHostIsProxiedWithTenant(t *testing.T) {
	f := newGatewayFixture(t, true)
	tenant, err := f.svc.Assigner.RegisterTenant(context.Background(), "Acme")
	require.NoError(t, err)
	host := *tenant.Subdomain + "." + rootDomain

	code, body, _ := f.get(t, host+":443", "/menu", http.Header{"X-Tenant-Id": {"spoofed"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/menu", body.Path)
	assert.Equal(t, tenant.ID.String(), body.TenantID)
	assert.Equal(t, identity.HostSubdomain, body.HostKind)

	assert.True(t, f.redis.Exists("host:"+host))
}

func TestUnknownHostIsNotFound(t *testing.T) {
	f := newGatewayFixture(t, true)

	code, _, raw := f.get(t, "nobody."+rootDomain, "/", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, raw, `"code":"not_found"`)

	code, _, _ = f.get(t, rootDomain, "/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIPathsGoToTenantService(t *testing.T) {
	f := newGatewayFixture(t, true)

	code, body, _ := f.get(t, "api."+rootDomain, "/subdomain/requests", http.Header{"X-Tenant-Id": {"spoofed"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/subdomain/requests", body.Path)
	assert.Empty(t, body.TenantID)

	code, _, _ = f.get(t, "api."+rootDomain, "/subdomains", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSubdomainChangeInvalidatesCachedHosts(t *testing.T) {
	f := newGatewayFixture(t, true)
	ctx := context.Background()
	tenant, err := f.svc.Assigner.RegisterTenant(ctx, "Acme")
	require.NoError(t, err)
	oldHost := *tenant.Subdomain + "." + rootDomain

	code, _, _ := f.get(t, oldHost, "/", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, f.redis.Exists("host:"+oldHost))

	_, err = f.svc.Assigner.ChangeTo(ctx, tenant.ID, "mybrand")
	require.NoError(t, err)
	assert.False(t, f.redis.Exists("host:"+oldHost))

	code, _, _ = f.get(t, oldHost, "/", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, body, _ := f.get(t, "mybrand."+rootDomain, "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, tenant.ID.String(), body.TenantID)
}

func TestStaleEntryServedWithoutInvalidation(t *testing.T) {
	f := newGatewayFixture(t, false)
	ctx := context.Background()
	tenant, err := f.svc.Assigner.RegisterTenant(ctx, "Acme")
	require.NoError(t, err)
	oldHost := *tenant.Subdomain + "." + rootDomain

	code, _, _ := f.get(t, oldHost, "/", nil)
	require.Equal(t, http.StatusOK, code)
	_, err = f.svc.Assigner.ChangeTo(ctx, tenant.ID, "mybrand")
	require.NoError(t, err)

	// the entry lives until its TTL
	code, _, _ = f.get(t, oldHost, "/", nil)
	assert.Equal(t, http.StatusOK, code)

	f.redis.FastForward(2 * time.Minute)
	code, _, _ = f.get(t, oldHost, "/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestApprovedCustomDomainIsProxied(t *testing.T) {
	f := newGatewayFixture(t, true)
	ctx := context.Background()
	tenant, err := f.svc.Assigner.RegisterTenant(ctx, "Acme")
	require.NoError(t, err)

	row, instructions, err := f.svc.Domains.RequestDomain(ctx, tenant.ID, "acme.com")
	require.NoError(t, err)

	code, _, _ := f.get(t, "www.acme.com", "/", nil)
	require.Equal(t, http.StatusNotFound, code)

	f.dns.Set("acme.com", instructions.Value)
	res, err := f.svc.Domains.VerifyForTenant(ctx, tenant.ID, "acme.com", "")
	require.NoError(t, err)
	require.True(t, res.Verified)
	admin := models.Principal{ID: "admin-1", Email: "ops@netqr.io"}
	_, err = f.svc.Domains.Approve(ctx, admin, row.ID)
	require.NoError(t, err)

	code, body, _ := f.get(t, "www.acme.com", "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, tenant.ID.String(), body.TenantID)
	assert.Equal(t, identity.HostCustomDomain, body.HostKind)
}

func TestCacheOutageFallsBackToStore(t *testing.T) {
	f := newGatewayFixture(t, false)
	tenant, err := f.svc.Assigner.RegisterTenant(context.Background(), "Acme")
	require.NoError(t, err)

	f.redis.Close()
	code, body, _ := f.get(t, *tenant.Subdomain+"."+rootDomain, "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, tenant.ID.String(), body.TenantID)
}

func TestUnreachableUpstream(t *testing.T) {
	f := newGatewayFixture(t, false)
	tenant, err := f.svc.Assigner.RegisterTenant(context.Background(), "Acme")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	router := setupRouter(NewHostRouter(f.svc.Hosts, f.cache, logger), &ServiceClients{
		TenantService: NewServiceClient(down.URL),
		AppService:    NewServiceClient(down.URL),
	}, promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}), logger)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = *tenant.Subdomain + "." + rootDomain
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy":false`)
}

func TestAffectedHosts(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inv := NewInvalidator(nil, "NetQR.io", logger)

	assert.Equal(t, []string{"new.netqr.io", "old.netqr.io"}, inv.affectedHosts(identity.Event{
		Type:              identity.EventSubdomainChanged,
		Subdomain:         "new",
		PreviousSubdomain: "old",
	}))
	assert.Equal(t, []string{"acme.com", "www.acme.com"}, inv.affectedHosts(identity.Event{
		Type:   identity.EventCustomDomainApproved,
		Domain: "acme.com",
	}))
	assert.Empty(t, inv.affectedHosts(identity.Event{Type: identity.EventSubdomainRequestSubmitted}))
	assert.NoError(t, inv.Handle(context.Background(), identity.Event{Type: identity.EventCustomDomainRejected}))
}

func TestIsAPIPath(t *testing.T) {
	assert.True(t, isAPIPath("/subdomain"))
	assert.True(t, isAPIPath("/custom-domains/verify"))
	assert.True(t, isAPIPath("/admin/stats"))
	assert.False(t, isAPIPath("/subdomains"))
	assert.False(t, isAPIPath("/"))
	assert.False(t, isAPIPath("/internal/tenants"))
}
