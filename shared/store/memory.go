package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

// MemoryStore implements Store in process memory, for development without a database and
// for tests. A single mutex stands in for the database: every method, and every transaction
// as a whole, runs under it, and the same unique and conditional-update rules as the
// postgres schema are applied.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
}

type memState struct {
	tenants  map[uuid.UUID]models.Tenant
	history  map[uuid.UUID][]models.SubdomainHistoryEntry
	requests map[uuid.UUID]models.SubdomainRequest
	domains  map[uuid.UUID]models.CustomDomain
	// insertion order, used to break created_at ties
	order map[uuid.UUID]int64
	next  int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			tenants:  map[uuid.UUID]models.Tenant{},
			history:  map[uuid.UUID][]models.SubdomainHistoryEntry{},
			requests: map[uuid.UUID]models.SubdomainRequest{},
			domains:  map[uuid.UUID]models.CustomDomain{},
			order:    map[uuid.UUID]int64{},
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		tenants:  make(map[uuid.UUID]models.Tenant, len(st.tenants)),
		history:  make(map[uuid.UUID][]models.SubdomainHistoryEntry, len(st.history)),
		requests: make(map[uuid.UUID]models.SubdomainRequest, len(st.requests)),
		domains:  make(map[uuid.UUID]models.CustomDomain, len(st.domains)),
		order:    make(map[uuid.UUID]int64, len(st.order)),
		next:     st.next,
	}
	for k, v := range st.tenants {
		c.tenants[k] = v
	}
	for k, v := range st.history {
		c.history[k] = append([]models.SubdomainHistoryEntry(nil), v...)
	}
	for k, v := range st.requests {
		c.requests[k] = v
	}
	for k, v := range st.domains {
		c.domains[k] = v
	}
	for k, v := range st.order {
		c.order[k] = v
	}
	return c
}

func (st *memState) track(id uuid.UUID) {
	st.next++
	st.order[id] = st.next
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx runs fn against a copy of the state and publishes the copy only when fn succeeds
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&MemoryStore{mu: s.mu, state: working, inTx: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

func strPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// ---- tenants ----

func (s *MemoryStore) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	defer s.lock()()

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if _, ok := s.state.tenants[tenant.ID]; ok {
		return ErrUniqueViolation
	}
	if tenant.Subdomain != nil {
		tenant.Subdomain = strPtr(strings.ToLower(*tenant.Subdomain))
		if s.subdomainTaken(*tenant.Subdomain, uuid.Nil) {
			return ErrUniqueViolation
		}
	}
	stamp(&tenant.CreatedAt, &tenant.UpdatedAt)
	s.state.tenants[tenant.ID] = *tenant
	s.state.track(tenant.ID)
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	defer s.lock()()

	t, ok := s.state.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) FindTenantBySubdomain(_ context.Context, label string) (*models.Tenant, error) {
	defer s.lock()()

	label = strings.ToLower(label)
	for _, t := range s.state.tenants {
		if t.Subdomain != nil && strings.ToLower(*t.Subdomain) == label {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindTenantByCustomDomain(_ context.Context, domain string) (*models.Tenant, error) {
	defer s.lock()()

	domain = strings.ToLower(domain)
	for _, t := range s.state.tenants {
		if t.CustomDomainEnabled && t.ApprovedCustomDomain != nil && *t.ApprovedCustomDomain == domain {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) subdomainTaken(label string, except uuid.UUID) bool {
	for id, t := range s.state.tenants {
		if id == except || t.Subdomain == nil {
			continue
		}
		if strings.ToLower(*t.Subdomain) == label {
			return true
		}
	}
	return false
}

func (s *MemoryStore) SetInitialSubdomain(_ context.Context, tenantID uuid.UUID, label string, at time.Time) error {
	defer s.lock()()

	t, ok := s.state.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	if t.Subdomain != nil {
		return ErrStaleWrite
	}
	label = strings.ToLower(label)
	if s.subdomainTaken(label, tenantID) {
		return ErrUniqueViolation
	}
	t.Subdomain = strPtr(label)
	t.UpdatedAt = at
	s.state.tenants[tenantID] = t
	return nil
}

func (s *MemoryStore) ReplaceSubdomain(_ context.Context, tenantID uuid.UUID, expected *string, label string, at time.Time) error {
	defer s.lock()()

	t, ok := s.state.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	switch {
	case expected == nil && t.Subdomain != nil,
		expected != nil && (t.Subdomain == nil || *t.Subdomain != *expected):
		return ErrStaleWrite
	}
	label = strings.ToLower(label)
	if s.subdomainTaken(label, tenantID) {
		return ErrUniqueViolation
	}
	t.Subdomain = strPtr(label)
	t.UpdatedAt = at
	s.state.tenants[tenantID] = t
	return nil
}

func (s *MemoryStore) EnableCustomDomain(_ context.Context, tenantID uuid.UUID, domain string, at time.Time) error {
	defer s.lock()()

	t, ok := s.state.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.ApprovedCustomDomain = strPtr(strings.ToLower(domain))
	t.CustomDomainEnabled = true
	t.UpdatedAt = at
	s.state.tenants[tenantID] = t
	return nil
}

// ---- subdomain history ----

func (s *MemoryStore) AppendSubdomainHistory(_ context.Context, tenantID uuid.UUID, label string, at time.Time) error {
	defer s.lock()()

	entries := s.state.history[tenantID]
	if len(entries) >= models.MaxSubdomainChanges {
		return ErrHistoryFull
	}
	s.state.history[tenantID] = append(entries, models.SubdomainHistoryEntry{
		TenantID:  tenantID,
		Seq:       len(entries) + 1,
		Subdomain: strings.ToLower(label),
		ChangedAt: at,
	})
	return nil
}

func (s *MemoryStore) ListSubdomainHistory(_ context.Context, tenantID uuid.UUID) ([]models.SubdomainHistoryEntry, error) {
	defer s.lock()()

	return append([]models.SubdomainHistoryEntry{}, s.state.history[tenantID]...), nil
}

func (s *MemoryStore) CountSubdomainHistory(_ context.Context, tenantID uuid.UUID) (int64, error) {
	defer s.lock()()

	return int64(len(s.state.history[tenantID])), nil
}

// ---- subdomain requests ----

func (s *MemoryStore) activeRequestHolds(label string, except uuid.UUID) bool {
	for id, r := range s.state.requests {
		if id != except && r.Status.Active() && r.RequestedSubdomain == label {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateSubdomainRequest(_ context.Context, req *models.SubdomainRequest) error {
	defer s.lock()()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	req.RequestedSubdomain = strings.ToLower(req.RequestedSubdomain)
	if req.Status.Active() && s.activeRequestHolds(req.RequestedSubdomain, req.ID) {
		return ErrUniqueViolation
	}
	stamp(&req.CreatedAt, &req.UpdatedAt)
	s.state.requests[req.ID] = *req
	s.state.track(req.ID)
	return nil
}

func (s *MemoryStore) GetSubdomainRequest(_ context.Context, id uuid.UUID) (*models.SubdomainRequest, error) {
	defer s.lock()()

	r, ok := s.state.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) FindActiveSubdomainRequest(_ context.Context, label string) (*models.SubdomainRequest, error) {
	defer s.lock()()

	label = strings.ToLower(label)
	for _, r := range s.state.requests {
		if r.Status.Active() && r.RequestedSubdomain == label {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdatePendingSubdomainRequest(_ context.Context, id uuid.UUID, update SubdomainRequestUpdate) error {
	defer s.lock()()

	r, ok := s.state.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.StatusPending {
		return ErrStaleWrite
	}
	if update.RequestedSubdomain != nil {
		r.RequestedSubdomain = strings.ToLower(*update.RequestedSubdomain)
	}
	if update.Status != nil {
		r.Status = *update.Status
	}
	if r.Status.Active() && s.activeRequestHolds(r.RequestedSubdomain, id) {
		return ErrUniqueViolation
	}
	if update.AdminNotes != nil {
		r.AdminNotes = *update.AdminNotes
	}
	if update.ReviewedBy != nil {
		r.ReviewedBy = *update.ReviewedBy
	}
	if update.ApprovedAt != nil {
		r.ApprovedAt = timePtr(*update.ApprovedAt)
	}
	if update.RejectedAt != nil {
		r.RejectedAt = timePtr(*update.RejectedAt)
	}
	r.UpdatedAt = update.UpdatedAt
	s.state.requests[id] = r
	return nil
}

func (s *MemoryStore) matchingRequests(filter RequestFilter) []models.SubdomainRequest {
	var out []models.SubdomainRequest
	for _, r := range s.state.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.TenantID != nil && r.TenantID != *filter.TenantID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newerFirst(out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListSubdomainRequests(_ context.Context, filter RequestFilter, page models.Page) ([]models.SubdomainRequest, int64, error) {
	defer s.lock()()

	all := s.matchingRequests(filter)
	return paginate(all, page), int64(len(all)), nil
}

func (s *MemoryStore) CountSubdomainRequests(_ context.Context, filter RequestFilter) (int64, error) {
	defer s.lock()()

	return int64(len(s.matchingRequests(filter))), nil
}

// ---- custom domains ----

func (s *MemoryStore) activeDomainHolds(name string, except uuid.UUID) bool {
	for id, d := range s.state.domains {
		if id != except && d.Status.Active() && d.Domain == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateCustomDomain(_ context.Context, domain *models.CustomDomain) error {
	defer s.lock()()

	if domain.ID == uuid.Nil {
		domain.ID = uuid.New()
	}
	if domain.Status == "" {
		domain.Status = models.StatusPending
	}
	domain.Domain = strings.ToLower(domain.Domain)
	if domain.Status.Active() && s.activeDomainHolds(domain.Domain, domain.ID) {
		return ErrUniqueViolation
	}
	stamp(&domain.CreatedAt, &domain.UpdatedAt)
	s.state.domains[domain.ID] = *domain
	s.state.track(domain.ID)
	return nil
}

func (s *MemoryStore) GetCustomDomain(_ context.Context, id uuid.UUID) (*models.CustomDomain, error) {
	defer s.lock()()

	d, ok := s.state.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) FindActiveCustomDomain(_ context.Context, name string) (*models.CustomDomain, error) {
	defer s.lock()()

	name = strings.ToLower(name)
	for _, d := range s.state.domains {
		if d.Status.Active() && d.Domain == name {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CustomDomainExists(_ context.Context, name string) (bool, error) {
	defer s.lock()()

	name = strings.ToLower(name)
	for _, d := range s.state.domains {
		if d.Domain == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateCustomDomainWhere(_ context.Context, id uuid.UUID, cond CustomDomainCondition, update CustomDomainUpdate) error {
	defer s.lock()()

	d, ok := s.state.domains[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != cond.Status || (cond.DNSVerified != nil && d.DNSVerified != *cond.DNSVerified) {
		return ErrStaleWrite
	}
	if update.DNSVerified != nil {
		d.DNSVerified = *update.DNSVerified
	}
	if update.VerifiedAt != nil {
		d.VerifiedAt = timePtr(*update.VerifiedAt)
	}
	if update.Status != nil {
		d.Status = *update.Status
	}
	if update.AdminNotes != nil {
		d.AdminNotes = *update.AdminNotes
	}
	if update.ReviewedBy != nil {
		d.ReviewedBy = *update.ReviewedBy
	}
	if update.ApprovedAt != nil {
		d.ApprovedAt = timePtr(*update.ApprovedAt)
	}
	if update.RejectedAt != nil {
		d.RejectedAt = timePtr(*update.RejectedAt)
	}
	d.UpdatedAt = update.UpdatedAt
	s.state.domains[id] = d
	return nil
}

func (s *MemoryStore) matchingDomains(filter RequestFilter) []models.CustomDomain {
	var out []models.CustomDomain
	for _, d := range s.state.domains {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.TenantID != nil && d.TenantID != *filter.TenantID {
			continue
		}
		if filter.DNSVerified != nil && d.DNSVerified != *filter.DNSVerified {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newerFirst(out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListCustomDomains(_ context.Context, filter RequestFilter, page models.Page) ([]models.CustomDomain, int64, error) {
	defer s.lock()()

	all := s.matchingDomains(filter)
	return paginate(all, page), int64(len(all)), nil
}

func (s *MemoryStore) CountCustomDomains(_ context.Context, filter RequestFilter) (int64, error) {
	defer s.lock()()

	return int64(len(s.matchingDomains(filter))), nil
}

// ---- helpers ----

func (s *MemoryStore) newerFirst(a uuid.UUID, at time.Time, b uuid.UUID, bt time.Time) bool {
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return s.state.order[a] > s.state.order[b]
}

func paginate[T any](all []T, page models.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start < 0 || start > len(all) {
		start = len(all)
	}
	end := start + page.Limit
	if end < start || end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
