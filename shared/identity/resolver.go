package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/pavitra93/netqr-tenant-identity/shared/store"
)

// Host kinds
const (
	HostSubdomain    = "subdomain"
	HostCustomDomain = "custom_domain"
)

// ResolvedHost identifies the tenant serving a request host
type ResolvedHost struct {
	Host     string    `json:"host"`
	TenantID uuid.UUID `json:"tenant_id"`
	Kind     string    `json:"kind"`
	// Label is the subdomain or the custom domain the host matched
	Label string `json:"label"`
}

// HostResolver maps request hosts to tenants
type HostResolver struct {
	store      store.Store
	rootDomain string
}

// NewHostResolver creates a resolver for hosts below rootDomain and approved custom domains
func NewHostResolver(st store.Store, rootDomain string) *HostResolver {
	return &HostResolver{store: st, rootDomain: NormalizeDomain(rootDomain)}
}

// ResolveHost finds the tenant for host. <label>.<root> resolves through the tenant
// subdomain; any other host must be an approved and enabled custom domain.
func (r *HostResolver) ResolveHost(ctx context.Context, host string) (*ResolvedHost, error) {
	h := NormalizeDomain(stripPort(host))
	if h == "" {
		return nil, newError(KindValidation, "host is required")
	}

	if r.rootDomain != "" && strings.HasSuffix(h, "."+r.rootDomain) {
		label := strings.TrimSuffix(h, "."+r.rootDomain)
		if strings.Contains(label, ".") || !ValidSubdomain(label) || IsReservedSubdomain(label) {
			return nil, newError(KindNotFound, "no tenant serves %s", h)
		}
		tenant, err := r.store.FindTenantBySubdomain(ctx, label)
		if err != nil {
			return nil, hostLookupError(h, err)
		}
		return &ResolvedHost{Host: h, TenantID: tenant.ID, Kind: HostSubdomain, Label: label}, nil
	}
	if h == r.rootDomain {
		return nil, newError(KindNotFound, "no tenant serves %s", h)
	}

	candidates := []string{h}
	if trimmed := strings.TrimPrefix(h, "www."); trimmed != h {
		candidates = append(candidates, trimmed)
	}
	for _, domain := range candidates {
		tenant, err := r.store.FindTenantByCustomDomain(ctx, domain)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, hostLookupError(h, err)
		}
		if !tenant.CustomDomainEnabled {
			continue
		}
		return &ResolvedHost{Host: h, TenantID: tenant.ID, Kind: HostCustomDomain, Label: domain}, nil
	}
	return nil, newError(KindNotFound, "no tenant serves %s", h)
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func hostLookupError(host string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, "no tenant serves %s", host)
	}
	return fmt.Errorf("failed to resolve host: %w", err)
}
