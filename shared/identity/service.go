package identity

import (
	"context"
	"fmt"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/store"
)

// Service bundles the identity workflows over one store and one admin policy
type Service struct {
	Assigner *Assigner
	Requests *SubdomainRequests
	Domains  *CustomDomains
	Hosts    *HostResolver

	store store.Store
	authz Authorizer
}

// NewService wires the workflows together
func NewService(st store.Store, resolver TXTResolver, authz Authorizer, cfg Config, opts Options) *Service {
	opts = opts.withDefaults()
	assigner := NewAssigner(st, opts)
	return &Service{
		Assigner: assigner,
		Requests: NewSubdomainRequests(st, assigner, authz, opts),
		Domains:  NewCustomDomains(st, resolver, authz, cfg, opts),
		Hosts:    NewHostResolver(st, cfg.RootDomain),
		store:    st,
		authz:    authz,
	}
}

// Authorizer returns the admin policy shared by every workflow
func (s *Service) Authorizer() Authorizer {
	return s.authz
}

// StatusCounts counts rows per moderation status
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}

// Stats summarizes the moderation queues for admins
type Stats struct {
	SubdomainRequests StatusCounts `json:"subdomain_requests"`
	CustomDomains     StatusCounts `json:"custom_domains"`
	// VerifiedPendingDomains are ready for approval
	VerifiedPendingDomains int64 `json:"verified_pending_domains"`
}

// Stats returns per-status counts of both queues
func (s *Service) Stats(ctx context.Context, admin models.Principal) (*Stats, error) {
	if err := RequireAdmin(ctx, s.authz, admin); err != nil {
		return nil, err
	}

	stats := &Stats{}
	statuses := []models.RequestStatus{models.StatusPending, models.StatusApproved, models.StatusRejected}
	for _, status := range statuses {
		n, err := s.store.CountSubdomainRequests(ctx, store.RequestFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("failed to count subdomain requests: %w", err)
		}
		stats.SubdomainRequests.add(status, n)

		n, err = s.store.CountCustomDomains(ctx, store.RequestFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("failed to count custom domains: %w", err)
		}
		stats.CustomDomains.add(status, n)
	}

	verified := true
	n, err := s.store.CountCustomDomains(ctx, store.RequestFilter{Status: models.StatusPending, DNSVerified: &verified})
	if err != nil {
		return nil, fmt.Errorf("failed to count custom domains: %w", err)
	}
	stats.VerifiedPendingDomains = n
	return stats, nil
}

func (c *StatusCounts) add(status models.RequestStatus, n int64) {
	switch status {
	case models.StatusPending:
		c.Pending = n
	case models.StatusApproved:
		c.Approved = n
	case models.StatusRejected:
		c.Rejected = n
	}
	c.Total += n
}
