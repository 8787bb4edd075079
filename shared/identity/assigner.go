package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/store"
)

// Availability reasons
const (
	ReasonInvalid   = "invalid"
	ReasonReserved  = "reserved"
	ReasonTaken     = "taken"
	ReasonRequested = "requested"
)

// Assigner owns the Tenant.subdomain column: first assignment, backfill and self-service
// changes with their bounded history.
type Assigner struct {
	store store.Store
	opts  Options
}

// NewAssigner creates an Assigner over st
func NewAssigner(st store.Store, opts Options) *Assigner {
	return &Assigner{store: st, opts: opts.withDefaults()}
}

// TenantIdentity is a tenant's current domain identity
type TenantIdentity struct {
	TenantID             uuid.UUID                      `json:"tenant_id"`
	Subdomain            string                         `json:"subdomain"`
	History              []models.SubdomainHistoryEntry `json:"history"`
	ChangesRemaining     int                            `json:"changes_remaining"`
	ApprovedCustomDomain string                         `json:"approved_custom_domain,omitempty"`
	CustomDomainEnabled  bool                           `json:"custom_domain_enabled"`
}

// Availability answers whether a subdomain could be requested right now
type Availability struct {
	Subdomain string `json:"subdomain"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type changeResult struct {
	tenantID uuid.UUID
	label    string
	previous string
}

// RegisterTenant creates a tenant and assigns its default subdomain
func (a *Assigner) RegisterTenant(ctx context.Context, name string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "tenant name is required")
	}

	now := a.opts.Now()
	tenant := &models.Tenant{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := a.store.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	label, err := a.Assign(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	tenant.Subdomain = &label
	return tenant, nil
}

// Assign gives a tenant its first subdomain. It is a no-op returning the current label when
// one is already assigned.
func (a *Assigner) Assign(ctx context.Context, tenantID uuid.UUID) (string, error) {
	return a.assign(ctx, tenantID, "auto")
}

// EnsureSubdomain backfills a subdomain for tenants created before auto-assignment existed.
// It is called on login.
func (a *Assigner) EnsureSubdomain(ctx context.Context, tenantID uuid.UUID) (string, error) {
	return a.assign(ctx, tenantID, "backfill")
}

func (a *Assigner) assign(ctx context.Context, tenantID uuid.UUID, kind string) (string, error) {
	tenant, err := a.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", tenantLookupError(tenantID, err)
	}
	if tenant.Subdomain != nil {
		return *tenant.Subdomain, nil
	}

	// Candidates are prefixes of a unique id, so a longer one is only needed when some other
	// tenant picked a colliding label through a change request.
	for _, label := range candidateLabels(tenantID) {
		err := a.store.SetInitialSubdomain(ctx, tenantID, label, a.opts.Now())
		switch {
		case err == nil:
			a.opts.Metrics.Assignment(kind)
			a.opts.Logger.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"subdomain": label,
				"kind":      kind,
			}).Info("Assigned subdomain")
			a.opts.publish(ctx, Event{Type: EventSubdomainAssigned, TenantID: tenantID, Subdomain: label})
			return label, nil
		case errors.Is(err, store.ErrUniqueViolation):
			continue
		case errors.Is(err, store.ErrStaleWrite):
			// a concurrent call assigned first
			current, err := a.store.GetTenant(ctx, tenantID)
			if err != nil {
				return "", tenantLookupError(tenantID, err)
			}
			return current.CurrentSubdomain(), nil
		case errors.Is(err, store.ErrNotFound):
			return "", newError(KindNotFound, "tenant %s not found", tenantID)
		default:
			return "", fmt.Errorf("failed to assign subdomain: %w", err)
		}
	}
	return "", newError(KindConflict, "no free subdomain candidate for tenant %s", tenantID)
}

// ChangeTo moves a tenant to the requested subdomain, recording the old one in its history.
// Nothing is written unless every check passes.
func (a *Assigner) ChangeTo(ctx context.Context, tenantID uuid.UUID, requested string) (string, error) {
	var res changeResult
	err := a.store.WithinTx(ctx, func(tx store.Store) error {
		var err error
		res, err = a.changeTo(ctx, tx, tenantID, requested)
		return err
	})
	if err != nil {
		return "", err
	}
	a.changed(ctx, res, "")
	return res.label, nil
}

// changeTo runs inside the caller's transaction
func (a *Assigner) changeTo(ctx context.Context, tx store.Store, tenantID uuid.UUID, requested string) (changeResult, error) {
	label, err := checkSubdomain(requested)
	if err != nil {
		return changeResult{}, err
	}

	tenant, err := tx.GetTenant(ctx, tenantID)
	if err != nil {
		return changeResult{}, tenantLookupError(tenantID, err)
	}
	if tenant.CurrentSubdomain() == label {
		return changeResult{}, newError(KindConflict, "tenant already uses subdomain %q", label)
	}

	holder, err := tx.FindTenantBySubdomain(ctx, label)
	switch {
	case err == nil && holder.ID != tenantID:
		return changeResult{}, newError(KindConflict, "subdomain %q is already taken", label)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return changeResult{}, fmt.Errorf("failed to check subdomain: %w", err)
	}

	n, err := tx.CountSubdomainHistory(ctx, tenantID)
	if err != nil {
		return changeResult{}, fmt.Errorf("failed to count subdomain history: %w", err)
	}
	if n >= models.MaxSubdomainChanges {
		return changeResult{}, newError(KindLimitExceeded,
			"subdomain can be changed at most %d times", models.MaxSubdomainChanges)
	}

	now := a.opts.Now()
	if tenant.Subdomain != nil {
		if err := tx.AppendSubdomainHistory(ctx, tenantID, *tenant.Subdomain, now); err != nil {
			switch {
			case errors.Is(err, store.ErrHistoryFull):
				return changeResult{}, newError(KindLimitExceeded,
					"subdomain can be changed at most %d times", models.MaxSubdomainChanges)
			case errors.Is(err, store.ErrUniqueViolation):
				return changeResult{}, wrapError(KindConflict, err, "subdomain history changed concurrently")
			}
			return changeResult{}, fmt.Errorf("failed to record subdomain history: %w", err)
		}
	}

	if err := tx.ReplaceSubdomain(ctx, tenantID, tenant.Subdomain, label, now); err != nil {
		switch {
		case errors.Is(err, store.ErrUniqueViolation):
			return changeResult{}, wrapError(KindConflict, err, "subdomain %q is already taken", label)
		case errors.Is(err, store.ErrStaleWrite):
			return changeResult{}, wrapError(KindConflict, err, "subdomain changed concurrently")
		case errors.Is(err, store.ErrNotFound):
			return changeResult{}, newError(KindNotFound, "tenant %s not found", tenantID)
		}
		return changeResult{}, fmt.Errorf("failed to update subdomain: %w", err)
	}

	return changeResult{tenantID: tenantID, label: label, previous: tenant.CurrentSubdomain()}, nil
}

// changed runs after the change has been committed
func (a *Assigner) changed(ctx context.Context, res changeResult, actor string) {
	a.opts.Metrics.Assignment("change")
	a.opts.Logger.WithFields(logrus.Fields{
		"tenant_id":          res.tenantID,
		"subdomain":          res.label,
		"previous_subdomain": res.previous,
	}).Info("Changed subdomain")
	a.opts.publish(ctx, Event{
		Type:              EventSubdomainChanged,
		TenantID:          res.tenantID,
		Subdomain:         res.label,
		PreviousSubdomain: res.previous,
		Actor:             actor,
	})
}

// History returns the tenant's previous subdomains, oldest first
func (a *Assigner) History(ctx context.Context, tenantID uuid.UUID) ([]models.SubdomainHistoryEntry, error) {
	if _, err := a.store.GetTenant(ctx, tenantID); err != nil {
		return nil, tenantLookupError(tenantID, err)
	}
	entries, err := a.store.ListSubdomainHistory(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subdomain history: %w", err)
	}
	return entries, nil
}

// Identity returns the tenant's subdomain, history and custom domain state
func (a *Assigner) Identity(ctx context.Context, tenantID uuid.UUID) (*TenantIdentity, error) {
	tenant, err := a.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, tenantLookupError(tenantID, err)
	}
	history, err := a.store.ListSubdomainHistory(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subdomain history: %w", err)
	}

	remaining := models.MaxSubdomainChanges - len(history)
	if remaining < 0 {
		remaining = 0
	}
	ident := &TenantIdentity{
		TenantID:            tenant.ID,
		Subdomain:           tenant.CurrentSubdomain(),
		History:             history,
		ChangesRemaining:    remaining,
		CustomDomainEnabled: tenant.CustomDomainEnabled,
	}
	if tenant.ApprovedCustomDomain != nil {
		ident.ApprovedCustomDomain = *tenant.ApprovedCustomDomain
	}
	return ident, nil
}

// CheckAvailability reports whether raw could be requested right now
func (a *Assigner) CheckAvailability(ctx context.Context, raw string) (*Availability, error) {
	label := NormalizeSubdomain(raw)
	result := &Availability{Subdomain: label}

	switch {
	case !ValidSubdomain(label):
		result.Reason = ReasonInvalid
		return result, nil
	case IsReservedSubdomain(label):
		result.Reason = ReasonReserved
		return result, nil
	}

	if _, err := a.store.FindTenantBySubdomain(ctx, label); err == nil {
		result.Reason = ReasonTaken
		return result, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check subdomain: %w", err)
	}

	if _, err := a.store.FindActiveSubdomainRequest(ctx, label); err == nil {
		result.Reason = ReasonRequested
		return result, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check subdomain requests: %w", err)
	}

	result.Available = true
	return result, nil
}

func tenantLookupError(tenantID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, "tenant %s not found", tenantID)
	}
	return fmt.Errorf("failed to load tenant: %w", err)
}
