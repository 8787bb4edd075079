package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	historySeqConstraint = "chk_subdomain_history_seq"
)

var activeStatuses = []models.RequestStatus{models.StatusPending, models.StatusApproved}

// GormStore implements Store on top of gorm and postgres
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// WithinTx runs fn inside a database transaction
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// ---- tenants ----

func (s *GormStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Subdomain != nil {
		lower := strings.ToLower(*tenant.Subdomain)
		tenant.Subdomain = &lower
	}
	return translateError(s.conn(ctx).Create(tenant).Error)
}

func (s *GormStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.conn(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

func (s *GormStore) FindTenantBySubdomain(ctx context.Context, label string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.conn(ctx).Where("LOWER(subdomain) = ?", strings.ToLower(label)).First(&tenant).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

func (s *GormStore) FindTenantByCustomDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.conn(ctx).
		Where("approved_custom_domain = ? AND custom_domain_enabled = ?", strings.ToLower(domain), true).
		First(&tenant).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

func (s *GormStore) SetInitialSubdomain(ctx context.Context, tenantID uuid.UUID, label string, at time.Time) error {
	res := s.conn(ctx).Model(&models.Tenant{}).
		Where("id = ? AND subdomain IS NULL", tenantID).
		Updates(map[string]interface{}{"subdomain": strings.ToLower(label), "updated_at": at})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missingOrStale(ctx, &models.Tenant{}, tenantID)
	}
	return nil
}

func (s *GormStore) ReplaceSubdomain(ctx context.Context, tenantID uuid.UUID, expected *string, label string, at time.Time) error {
	q := s.conn(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID)
	if expected == nil {
		q = q.Where("subdomain IS NULL")
	} else {
		q = q.Where("subdomain = ?", *expected)
	}
	res := q.Updates(map[string]interface{}{"subdomain": strings.ToLower(label), "updated_at": at})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missingOrStale(ctx, &models.Tenant{}, tenantID)
	}
	return nil
}

func (s *GormStore) EnableCustomDomain(ctx context.Context, tenantID uuid.UUID, domain string, at time.Time) error {
	res := s.conn(ctx).Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]interface{}{
			"approved_custom_domain": strings.ToLower(domain),
			"custom_domain_enabled":  true,
			"updated_at":             at,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- subdomain history ----

// AppendSubdomainHistory computes the next sequence number and inserts in one statement.
// Two concurrent appends pick the same seq and one of them fails on the primary key; the
// CHECK constraint rejects a sixth entry.
func (s *GormStore) AppendSubdomainHistory(ctx context.Context, tenantID uuid.UUID, label string, at time.Time) error {
	err := s.conn(ctx).Exec(
		`INSERT INTO subdomain_history (tenant_id, seq, subdomain, changed_at)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ? FROM subdomain_history WHERE tenant_id = ?`,
		tenantID, strings.ToLower(label), at, tenantID,
	).Error
	return translateError(err)
}

func (s *GormStore) ListSubdomainHistory(ctx context.Context, tenantID uuid.UUID) ([]models.SubdomainHistoryEntry, error) {
	var entries []models.SubdomainHistoryEntry
	if err := s.conn(ctx).Where("tenant_id = ?", tenantID).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

func (s *GormStore) CountSubdomainHistory(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.SubdomainHistoryEntry{}).Where("tenant_id = ?", tenantID).Count(&n).Error
	return n, translateError(err)
}

// ---- subdomain requests ----

func (s *GormStore) CreateSubdomainRequest(ctx context.Context, req *models.SubdomainRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	return translateError(s.conn(ctx).Create(req).Error)
}

func (s *GormStore) GetSubdomainRequest(ctx context.Context, id uuid.UUID) (*models.SubdomainRequest, error) {
	var req models.SubdomainRequest
	if err := s.conn(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *GormStore) FindActiveSubdomainRequest(ctx context.Context, label string) (*models.SubdomainRequest, error) {
	var req models.SubdomainRequest
	err := s.conn(ctx).
		Where("requested_subdomain = ? AND status IN ?", strings.ToLower(label), activeStatuses).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *GormStore) UpdatePendingSubdomainRequest(ctx context.Context, id uuid.UUID, update SubdomainRequestUpdate) error {
	cols := map[string]interface{}{"updated_at": update.UpdatedAt}
	if update.RequestedSubdomain != nil {
		cols["requested_subdomain"] = strings.ToLower(*update.RequestedSubdomain)
	}
	if update.Status != nil {
		cols["status"] = *update.Status
	}
	if update.AdminNotes != nil {
		cols["admin_notes"] = *update.AdminNotes
	}
	if update.ReviewedBy != nil {
		cols["reviewed_by"] = *update.ReviewedBy
	}
	if update.ApprovedAt != nil {
		cols["approved_at"] = *update.ApprovedAt
	}
	if update.RejectedAt != nil {
		cols["rejected_at"] = *update.RejectedAt
	}

	res := s.conn(ctx).Model(&models.SubdomainRequest{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(cols)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missingOrStale(ctx, &models.SubdomainRequest{}, id)
	}
	return nil
}

func (s *GormStore) ListSubdomainRequests(ctx context.Context, filter RequestFilter, page models.Page) ([]models.SubdomainRequest, int64, error) {
	page = page.Normalize()
	q := applyFilter(s.conn(ctx).Model(&models.SubdomainRequest{}), filter, false)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	var items []models.SubdomainRequest
	err := q.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&items).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return items, total, nil
}

func (s *GormStore) CountSubdomainRequests(ctx context.Context, filter RequestFilter) (int64, error) {
	var n int64
	err := applyFilter(s.conn(ctx).Model(&models.SubdomainRequest{}), filter, false).Count(&n).Error
	return n, translateError(err)
}

// ---- custom domains ----

func (s *GormStore) CreateCustomDomain(ctx context.Context, domain *models.CustomDomain) error {
	if domain.ID == uuid.Nil {
		domain.ID = uuid.New()
	}
	return translateError(s.conn(ctx).Create(domain).Error)
}

func (s *GormStore) GetCustomDomain(ctx context.Context, id uuid.UUID) (*models.CustomDomain, error) {
	var domain models.CustomDomain
	if err := s.conn(ctx).Where("id = ?", id).First(&domain).Error; err != nil {
		return nil, translateError(err)
	}
	return &domain, nil
}

func (s *GormStore) FindActiveCustomDomain(ctx context.Context, name string) (*models.CustomDomain, error) {
	var domain models.CustomDomain
	err := s.conn(ctx).
		Where("domain = ? AND status IN ?", strings.ToLower(name), activeStatuses).
		Order("created_at DESC").
		First(&domain).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &domain, nil
}

func (s *GormStore) CustomDomainExists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.CustomDomain{}).Where("domain = ?", strings.ToLower(name)).Count(&n).Error
	if err != nil {
		return false, translateError(err)
	}
	return n > 0, nil
}

func (s *GormStore) UpdateCustomDomainWhere(ctx context.Context, id uuid.UUID, cond CustomDomainCondition, update CustomDomainUpdate) error {
	cols := map[string]interface{}{"updated_at": update.UpdatedAt}
	if update.DNSVerified != nil {
		cols["dns_verified"] = *update.DNSVerified
	}
	if update.VerifiedAt != nil {
		cols["verified_at"] = *update.VerifiedAt
	}
	if update.Status != nil {
		cols["status"] = *update.Status
	}
	if update.AdminNotes != nil {
		cols["admin_notes"] = *update.AdminNotes
	}
	if update.ReviewedBy != nil {
		cols["reviewed_by"] = *update.ReviewedBy
	}
	if update.ApprovedAt != nil {
		cols["approved_at"] = *update.ApprovedAt
	}
	if update.RejectedAt != nil {
		cols["rejected_at"] = *update.RejectedAt
	}

	q := s.conn(ctx).Model(&models.CustomDomain{}).Where("id = ? AND status = ?", id, cond.Status)
	if cond.DNSVerified != nil {
		q = q.Where("dns_verified = ?", *cond.DNSVerified)
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missingOrStale(ctx, &models.CustomDomain{}, id)
	}
	return nil
}

func (s *GormStore) ListCustomDomains(ctx context.Context, filter RequestFilter, page models.Page) ([]models.CustomDomain, int64, error) {
	page = page.Normalize()
	q := applyFilter(s.conn(ctx).Model(&models.CustomDomain{}), filter, true)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	var items []models.CustomDomain
	err := q.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&items).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return items, total, nil
}

func (s *GormStore) CountCustomDomains(ctx context.Context, filter RequestFilter) (int64, error) {
	var n int64
	err := applyFilter(s.conn(ctx).Model(&models.CustomDomain{}), filter, true).Count(&n).Error
	return n, translateError(err)
}

// ---- helpers ----

func applyFilter(q *gorm.DB, filter RequestFilter, withDNS bool) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TenantID != nil {
		q = q.Where("tenant_id = ?", *filter.TenantID)
	}
	if withDNS && filter.DNSVerified != nil {
		q = q.Where("dns_verified = ?", *filter.DNSVerified)
	}
	return q
}

// missingOrStale tells a row that does not exist apart from one whose predicate no longer holds
func (s *GormStore) missingOrStale(ctx context.Context, model interface{}, id uuid.UUID) error {
	var n int64
	if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return translateError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleWrite
}

// translateError maps driver errors onto the store's sentinel errors
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
		case pgCheckViolation:
			if pgErr.ConstraintName == historySeqConstraint {
				return ErrHistoryFull
			}
		}
	}
	return err
}
