package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/dnsverify"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/store"
)

const testRoot = "netqr.io"

var testAdmin = models.Principal{ID: "admin-1", Email: "ops@netqr.io"}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx    context.Context
	st     *store.MemoryStore
	dns    *dnsverify.Static
	events *recorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		ctx:    context.Background(),
		st:     store.NewMemoryStore(),
		dns:    dnsverify.NewStatic(),
		events: &recorder{},
	}
	f.svc = NewService(f.st, f.dns, NewEmailAllowList(testAdmin.Email),
		Config{RootDomain: testRoot, LookupTimeout: time.Second},
		Options{Logger: logger, Publisher: f.events})
	return f
}

func (f *fixture) tenant(t *testing.T) *models.Tenant {
	t.Helper()
	tenant, err := f.svc.Assigner.RegisterTenant(f.ctx, "Acme")
	require.NoError(t, err)
	return tenant
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Tenant {
	t.Helper()
	tenant, err := f.st.GetTenant(f.ctx, id)
	require.NoError(t, err)
	return tenant
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}
