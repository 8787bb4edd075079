// Package store persists tenants, subdomain requests and custom domains.
//
// The uniqueness and state invariants are enforced here, by unique indexes and by
// conditional updates, so that callers racing each other cannot both win. Service-level
// pre-checks exist only to produce friendlier errors.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when a write would break a unique constraint
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrStaleWrite is returned when a conditional update matched no row
	ErrStaleWrite = errors.New("conditional update matched no rows")
	// ErrHistoryFull is returned when a tenant already has the maximum number of history entries
	ErrHistoryFull = errors.New("subdomain history is full")
)

// RequestFilter narrows list queries over subdomain requests and custom domains
type RequestFilter struct {
	Status   models.RequestStatus
	TenantID *uuid.UUID
	// DNSVerified only applies to custom domains
	DNSVerified *bool
}

// SubdomainRequestUpdate carries the columns a conditional update may set
type SubdomainRequestUpdate struct {
	RequestedSubdomain *string
	Status             *models.RequestStatus
	AdminNotes         *string
	ReviewedBy         *string
	ApprovedAt         *time.Time
	RejectedAt         *time.Time
	UpdatedAt          time.Time
}

// CustomDomainUpdate carries the columns a conditional update may set
type CustomDomainUpdate struct {
	DNSVerified *bool
	VerifiedAt  *time.Time
	Status      *models.RequestStatus
	AdminNotes  *string
	ReviewedBy  *string
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	UpdatedAt   time.Time
}

// CustomDomainCondition is the predicate a conditional custom domain update requires
type CustomDomainCondition struct {
	Status      models.RequestStatus
	DNSVerified *bool
}

// Store is the identity persistence boundary
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindTenantBySubdomain(ctx context.Context, label string) (*models.Tenant, error)
	FindTenantByCustomDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// SetInitialSubdomain writes label only where the tenant has no subdomain yet.
	// It returns ErrStaleWrite when one is already assigned.
	SetInitialSubdomain(ctx context.Context, tenantID uuid.UUID, label string, at time.Time) error
	// ReplaceSubdomain writes label only where the current subdomain still equals expected.
	ReplaceSubdomain(ctx context.Context, tenantID uuid.UUID, expected *string, label string, at time.Time) error
	EnableCustomDomain(ctx context.Context, tenantID uuid.UUID, domain string, at time.Time) error

	// Subdomain history
	AppendSubdomainHistory(ctx context.Context, tenantID uuid.UUID, label string, at time.Time) error
	ListSubdomainHistory(ctx context.Context, tenantID uuid.UUID) ([]models.SubdomainHistoryEntry, error)
	CountSubdomainHistory(ctx context.Context, tenantID uuid.UUID) (int64, error)

	// Subdomain requests
	CreateSubdomainRequest(ctx context.Context, req *models.SubdomainRequest) error
	GetSubdomainRequest(ctx context.Context, id uuid.UUID) (*models.SubdomainRequest, error)
	FindActiveSubdomainRequest(ctx context.Context, label string) (*models.SubdomainRequest, error)
	// UpdatePendingSubdomainRequest applies update only while the row is pending
	UpdatePendingSubdomainRequest(ctx context.Context, id uuid.UUID, update SubdomainRequestUpdate) error
	ListSubdomainRequests(ctx context.Context, filter RequestFilter, page models.Page) ([]models.SubdomainRequest, int64, error)
	CountSubdomainRequests(ctx context.Context, filter RequestFilter) (int64, error)

	// Custom domains
	CreateCustomDomain(ctx context.Context, domain *models.CustomDomain) error
	GetCustomDomain(ctx context.Context, id uuid.UUID) (*models.CustomDomain, error)
	FindActiveCustomDomain(ctx context.Context, domain string) (*models.CustomDomain, error)
	CustomDomainExists(ctx context.Context, domain string) (bool, error)
	UpdateCustomDomainWhere(ctx context.Context, id uuid.UUID, cond CustomDomainCondition, update CustomDomainUpdate) error
	ListCustomDomains(ctx context.Context, filter RequestFilter, page models.Page) ([]models.CustomDomain, int64, error)
	CountCustomDomains(ctx context.Context, filter RequestFilter) (int64, error)

	// WithinTx runs fn against a transactional view of the store. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
