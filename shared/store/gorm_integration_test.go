//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

// setupPostgres connects to TEST_DATABASE_DSN and migrates a clean schema
func setupPostgres(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}

	require.NoError(t, db.Exec(`DROP TABLE IF EXISTS subdomain_history, subdomain_requests, custom_domains, tenants CASCADE`).Error)
	require.NoError(t, Migrate(db))
	return NewGormStore(db)
}

func TestPostgresSubdomainUniqueUnderConcurrency(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	const writers = 8
	tenants := make([]*models.Tenant, writers)
	for i := range tenants {
		tenants[i] = &models.Tenant{Name: "t"}
		require.NoError(t, s.CreateTenant(ctx, tenants[i]))
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range tenants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SetInitialSubdomain(ctx, tenants[i].ID, "contested", time.Now())
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrUniqueViolation)
	}
	assert.Equal(t, 1, won)
}

func TestPostgresHistoryCheckConstraint(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	tenant := &models.Tenant{Name: "t"}
	require.NoError(t, s.CreateTenant(ctx, tenant))

	for i := 0; i < models.MaxSubdomainChanges; i++ {
		require.NoError(t, s.AppendSubdomainHistory(ctx, tenant.ID, "old", time.Now()))
	}
	assert.ErrorIs(t, s.AppendSubdomainHistory(ctx, tenant.ID, "old", time.Now()), ErrHistoryFull)

	entries, err := s.ListSubdomainHistory(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, entries, models.MaxSubdomainChanges)
}

func TestPostgresActiveRequestIndex(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	tenant := &models.Tenant{Name: "t"}
	require.NoError(t, s.CreateTenant(ctx, tenant))

	first := &models.SubdomainRequest{TenantID: tenant.ID, RequestedSubdomain: "brand", Status: models.StatusPending}
	require.NoError(t, s.CreateSubdomainRequest(ctx, first))
	dup := &models.SubdomainRequest{TenantID: tenant.ID, RequestedSubdomain: "brand", Status: models.StatusPending}
	assert.ErrorIs(t, s.CreateSubdomainRequest(ctx, dup), ErrUniqueViolation)

	rejected := models.StatusRejected
	require.NoError(t, s.UpdatePendingSubdomainRequest(ctx, first.ID, SubdomainRequestUpdate{Status: &rejected, UpdatedAt: time.Now()}))
	again := &models.SubdomainRequest{TenantID: tenant.ID, RequestedSubdomain: "brand", Status: models.StatusPending}
	require.NoError(t, s.CreateSubdomainRequest(ctx, again))

	assert.ErrorIs(t, s.UpdatePendingSubdomainRequest(ctx, first.ID, SubdomainRequestUpdate{Status: &rejected, UpdatedAt: time.Now()}), ErrStaleWrite)
	assert.ErrorIs(t, s.UpdatePendingSubdomainRequest(ctx, uuid.New(), SubdomainRequestUpdate{UpdatedAt: time.Now()}), ErrNotFound)
}

func TestPostgresApproveDomainTxRollsBack(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	tenant := &models.Tenant{Name: "t"}
	require.NoError(t, s.CreateTenant(ctx, tenant))
	d := &models.CustomDomain{TenantID: tenant.ID, Domain: "example.com", VerificationToken: "tok", Status: models.StatusPending, DNSVerified: true}
	require.NoError(t, s.CreateCustomDomain(ctx, d))

	err := s.WithinTx(ctx, func(tx Store) error {
		approved := models.StatusApproved
		verified := true
		require.NoError(t, tx.UpdateCustomDomainWhere(ctx, d.ID,
			CustomDomainCondition{Status: models.StatusPending, DNSVerified: &verified},
			CustomDomainUpdate{Status: &approved, UpdatedAt: time.Now()}))
		return tx.EnableCustomDomain(ctx, uuid.New(), d.Domain, time.Now())
	})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetCustomDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
