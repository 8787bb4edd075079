package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/store"
)

const (
	entityCustomDomain = "custom_domain"

	// VerificationPrefix starts the TXT record value a tenant publishes
	VerificationPrefix = "netqr-verification="
	verificationTTL    = 300
	tokenBytes         = 16

	DefaultLookupTimeout = 5 * time.Second
)

// TXTResolver looks up the TXT records of a domain. A domain with no TXT records is not an
// error; it yields an empty slice.
type TXTResolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// VerificationInstructions tell a tenant which DNS record proves ownership
type VerificationInstructions struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// InstructionsFor returns the TXT record that verifies d
func InstructionsFor(d *models.CustomDomain) VerificationInstructions {
	return VerificationInstructions{
		Type:  "TXT",
		Name:  d.Domain,
		Value: VerificationPrefix + d.VerificationToken,
		TTL:   verificationTTL,
	}
}

// VerificationOutcome classifies a verification attempt
type VerificationOutcome string

const (
	OutcomeVerified       VerificationOutcome = "verified"
	OutcomeNotVerifiedYet VerificationOutcome = "not_verified_yet"
	OutcomeLookupFailed   VerificationOutcome = "lookup_failed"
)

// VerificationResult is the outcome of VerifyOwnership. Only OutcomeVerified changes state;
// the other outcomes can be retried later. Cause is set for lookup failures.
type VerificationResult struct {
	DomainID  uuid.UUID           `json:"domain_id"`
	Domain    string              `json:"domain"`
	Outcome   VerificationOutcome `json:"outcome"`
	Verified  bool                `json:"verified"`
	Retryable bool                `json:"retryable"`
	Message   string              `json:"message,omitempty"`
	Cause     error               `json:"-"`
}

// DomainStatus is a tenant's view of one custom domain request
type DomainStatus struct {
	Domain       *models.CustomDomain     `json:"domain"`
	Instructions VerificationInstructions `json:"instructions"`
}

// DomainFilter narrows admin listings of custom domains
type DomainFilter struct {
	Status      models.RequestStatus
	DNSVerified *bool
}

// Config holds the settings of the custom domain workflow
type Config struct {
	// RootDomain is the platform's own domain; tenants may not claim it or names below it
	RootDomain    string
	LookupTimeout time.Duration
}

// CustomDomains moderates tenant requests to serve from their own apex domain.
//
// A row moves pending(unverified) -> pending(verified) -> approved, or from either pending
// state to rejected. Approval also enables the domain on the tenant in the same transaction.
type CustomDomains struct {
	store    store.Store
	resolver TXTResolver
	authz    Authorizer
	cfg      Config
	opts     Options
}

// NewCustomDomains creates the workflow
func NewCustomDomains(st store.Store, resolver TXTResolver, authz Authorizer, cfg Config, opts Options) *CustomDomains {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	cfg.RootDomain = NormalizeDomain(cfg.RootDomain)
	return &CustomDomains{store: st, resolver: resolver, authz: authz, cfg: cfg, opts: opts.withDefaults()}
}

// RequestDomain opens a pending request for tenantID and returns the TXT record to publish
func (w *CustomDomains) RequestDomain(ctx context.Context, tenantID uuid.UUID, raw string) (*models.CustomDomain, VerificationInstructions, error) {
	domain, err := w.checkDomain(raw)
	if err != nil {
		return nil, VerificationInstructions{}, err
	}
	if _, err := w.store.GetTenant(ctx, tenantID); err != nil {
		return nil, VerificationInstructions{}, tenantLookupError(tenantID, err)
	}

	if _, err := w.store.FindActiveCustomDomain(ctx, domain); err == nil {
		return nil, VerificationInstructions{}, newError(KindConflict, "domain %q has already been requested", domain)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, VerificationInstructions{}, fmt.Errorf("failed to check custom domain: %w", err)
	}

	token, err := newVerificationToken()
	if err != nil {
		return nil, VerificationInstructions{}, err
	}
	now := w.opts.Now()
	row := &models.CustomDomain{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Domain:            domain,
		VerificationToken: token,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := w.store.CreateCustomDomain(ctx, row); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, VerificationInstructions{}, wrapError(KindConflict, err, "domain %q has already been requested", domain)
		}
		return nil, VerificationInstructions{}, fmt.Errorf("failed to create custom domain: %w", err)
	}

	w.opts.Metrics.Transition(entityCustomDomain, string(models.StatusPending))
	w.opts.Logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"domain_id": row.ID,
		"domain":    domain,
	}).Info("Custom domain requested")
	w.opts.publish(ctx, Event{Type: EventCustomDomainRequested, TenantID: tenantID, Domain: domain, RecordID: &row.ID})
	return row, InstructionsFor(row), nil
}

// VerifyOwnership looks for the verification record of the active request for domain. token
// is optional; when given it must match the request's token. A failed lookup is reported in
// the result, not as an error, and leaves the row untouched.
func (w *CustomDomains) VerifyOwnership(ctx context.Context, raw, token string) (*VerificationResult, error) {
	domain := NormalizeDomain(raw)
	if !ValidDomain(domain) {
		return nil, newError(KindValidation, "%q is not a valid domain name", raw)
	}
	row, err := w.activeDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	return w.verify(ctx, row, token)
}

// VerifyForTenant is VerifyOwnership scoped to requests owned by tenantID. Another tenant's
// domain is reported as not found.
func (w *CustomDomains) VerifyForTenant(ctx context.Context, tenantID uuid.UUID, raw, token string) (*VerificationResult, error) {
	domain := NormalizeDomain(raw)
	if !ValidDomain(domain) {
		return nil, newError(KindValidation, "%q is not a valid domain name", raw)
	}
	row, err := w.activeDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if row.TenantID != tenantID {
		return nil, newError(KindNotFound, "no active request for domain %q", domain)
	}
	return w.verify(ctx, row, token)
}

func (w *CustomDomains) verify(ctx context.Context, row *models.CustomDomain, token string) (*VerificationResult, error) {
	result := &VerificationResult{DomainID: row.ID, Domain: row.Domain}
	if row.DNSVerified {
		result.Outcome, result.Verified = OutcomeVerified, true
		return result, nil
	}
	if !row.IsPending() {
		return nil, notPendingDomain(row)
	}

	log := w.opts.Logger.WithFields(logrus.Fields{"domain_id": row.ID, "domain": row.Domain})
	if token != "" && token != row.VerificationToken {
		w.opts.Metrics.Verification(string(OutcomeNotVerifiedYet))
		result.Outcome, result.Retryable = OutcomeNotVerifiedYet, true
		result.Message = "verification token does not match this domain"
		return result, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, w.cfg.LookupTimeout)
	defer cancel()
	start := time.Now()
	records, err := w.resolver.LookupTXT(lookupCtx, row.Domain)
	w.opts.Metrics.ObserveLookup(time.Since(start))
	if err != nil {
		w.opts.Metrics.Verification(string(OutcomeLookupFailed))
		log.WithField("error", err).Warn("TXT lookup failed")
		result.Outcome, result.Retryable = OutcomeLookupFailed, true
		result.Cause = wrapError(KindExternalService, err, "TXT lookup for %s failed", row.Domain)
		result.Message = "DNS lookup failed, try again later"
		return result, nil
	}

	expected := VerificationPrefix + row.VerificationToken
	if !containsRecord(records, expected) {
		w.opts.Metrics.Verification(string(OutcomeNotVerifiedYet))
		result.Outcome, result.Retryable = OutcomeNotVerifiedYet, true
		result.Message = fmt.Sprintf("TXT record %q not found on %s", expected, row.Domain)
		return result, nil
	}

	now := w.opts.Now()
	verified := true
	unverified := false
	cond := store.CustomDomainCondition{Status: models.StatusPending, DNSVerified: &unverified}
	update := store.CustomDomainUpdate{DNSVerified: &verified, VerifiedAt: &now, UpdatedAt: now}
	if err := w.store.UpdateCustomDomainWhere(ctx, row.ID, cond, update); err != nil {
		if !errors.Is(err, store.ErrStaleWrite) {
			return nil, w.updateError(ctx, row.ID, err)
		}
		// verified concurrently, or decided since we read it
		current, getErr := w.get(ctx, w.store, row.ID)
		if getErr != nil {
			return nil, getErr
		}
		if !current.DNSVerified {
			return nil, notPendingDomain(current)
		}
		result.Outcome, result.Verified = OutcomeVerified, true
		return result, nil
	}

	w.opts.Metrics.Verification(string(OutcomeVerified))
	log.Info("Custom domain verified")
	w.opts.publish(ctx, Event{Type: EventCustomDomainVerified, TenantID: row.TenantID, Domain: row.Domain, RecordID: &row.ID})
	result.Outcome, result.Verified = OutcomeVerified, true
	return result, nil
}

// SweepPending re-runs verification for pending, unverified requests, at most limit of them.
// It returns how many were checked and how many became verified.
func (w *CustomDomains) SweepPending(ctx context.Context, limit int) (checked, verified int, err error) {
	unverified := false
	filter := store.RequestFilter{Status: models.StatusPending, DNSVerified: &unverified}
	rows, _, err := w.store.ListCustomDomains(ctx, filter, models.Page{Page: 1, Limit: limit})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list pending custom domains: %w", err)
	}

	for i := range rows {
		if ctx.Err() != nil {
			return checked, verified, ctx.Err()
		}
		res, err := w.verify(ctx, &rows[i], "")
		checked++
		if err != nil {
			// rows decided since the listing are skipped
			w.opts.Logger.WithFields(logrus.Fields{
				"domain_id": rows[i].ID,
				"error":     err,
			}).Debug("Skipping custom domain")
			continue
		}
		if res.Verified {
			verified++
		}
	}
	return checked, verified, nil
}

// Approve enables a DNS-verified domain on its tenant and closes the request
func (w *CustomDomains) Approve(ctx context.Context, admin models.Principal, domainID uuid.UUID) (*models.CustomDomain, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return w.approve(ctx, admin, domainID)
}

func (w *CustomDomains) approve(ctx context.Context, admin models.Principal, domainID uuid.UUID) (*models.CustomDomain, error) {
	actor := admin.Actor()
	var approved *models.CustomDomain
	err := w.store.WithinTx(ctx, func(tx store.Store) error {
		row, err := w.get(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if !row.IsPending() {
			return notPendingDomain(row)
		}
		if !row.DNSVerified {
			return newError(KindPrecondition, "domain %q has not passed DNS verification", row.Domain)
		}

		now := w.opts.Now()
		status := models.StatusApproved
		verified := true
		cond := store.CustomDomainCondition{Status: models.StatusPending, DNSVerified: &verified}
		update := store.CustomDomainUpdate{Status: &status, ReviewedBy: &actor, ApprovedAt: &now, UpdatedAt: now}
		if err := tx.UpdateCustomDomainWhere(ctx, domainID, cond, update); err != nil {
			return w.updateErrorIn(ctx, tx, domainID, err)
		}

		if err := tx.EnableCustomDomain(ctx, row.TenantID, row.Domain, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return newError(KindNotFound, "tenant %s not found", row.TenantID)
			}
			return fmt.Errorf("failed to enable custom domain: %w", err)
		}

		approved, err = w.get(ctx, tx, domainID)
		return err
	})
	if err != nil {
		w.opts.Logger.WithFields(logrus.Fields{
			"domain_id": domainID,
			"actor":     actor,
			"error":     err,
		}).Warn("Custom domain approval failed")
		return nil, err
	}

	w.opts.Metrics.Transition(entityCustomDomain, string(models.StatusApproved))
	w.opts.Logger.WithFields(logrus.Fields{
		"domain_id": domainID,
		"tenant_id": approved.TenantID,
		"domain":    approved.Domain,
		"actor":     actor,
	}).Info("Custom domain approved")
	w.opts.publish(ctx, Event{
		Type:     EventCustomDomainApproved,
		TenantID: approved.TenantID,
		Domain:   approved.Domain,
		RecordID: &approved.ID,
		Actor:    actor,
	})
	return approved, nil
}

// Reject closes a pending request whatever its DNS state
func (w *CustomDomains) Reject(ctx context.Context, admin models.Principal, domainID uuid.UUID, reason string) (*models.CustomDomain, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return w.reject(ctx, admin, domainID, reason)
}

func (w *CustomDomains) reject(ctx context.Context, admin models.Principal, domainID uuid.UUID, reason string) (*models.CustomDomain, error) {
	actor := admin.Actor()
	reason = strings.TrimSpace(reason)
	now := w.opts.Now()
	status := models.StatusRejected
	cond := store.CustomDomainCondition{Status: models.StatusPending}
	update := store.CustomDomainUpdate{
		Status:     &status,
		AdminNotes: &reason,
		ReviewedBy: &actor,
		RejectedAt: &now,
		UpdatedAt:  now,
	}
	if err := w.store.UpdateCustomDomainWhere(ctx, domainID, cond, update); err != nil {
		return nil, w.updateError(ctx, domainID, err)
	}

	rejected, err := w.get(ctx, w.store, domainID)
	if err != nil {
		return nil, err
	}
	w.opts.Metrics.Transition(entityCustomDomain, string(models.StatusRejected))
	w.opts.Logger.WithFields(logrus.Fields{
		"domain_id": domainID,
		"domain":    rejected.Domain,
		"actor":     actor,
	}).Info("Custom domain rejected")
	w.opts.publish(ctx, Event{
		Type:     EventCustomDomainRejected,
		TenantID: rejected.TenantID,
		Domain:   rejected.Domain,
		RecordID: &rejected.ID,
		Actor:    actor,
	})
	return rejected, nil
}

// BulkApprove approves each id independently
func (w *CustomDomains) BulkApprove(ctx context.Context, admin models.Principal, ids []uuid.UUID) (*BulkResult, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return runBulk(ids, func(id uuid.UUID) error {
		_, err := w.approve(ctx, admin, id)
		return err
	})
}

// BulkReject rejects each id independently with the same reason
func (w *CustomDomains) BulkReject(ctx context.Context, admin models.Principal, ids []uuid.UUID, reason string) (*BulkResult, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return runBulk(ids, func(id uuid.UUID) error {
		_, err := w.reject(ctx, admin, id, reason)
		return err
	})
}

// IsDomainAvailable reports whether domain has never been requested. Rejected requests
// still count, so a rejected domain cannot be requested again.
func (w *CustomDomains) IsDomainAvailable(ctx context.Context, raw string) (bool, error) {
	domain := NormalizeDomain(raw)
	if !ValidDomain(domain) {
		return false, newError(KindValidation, "%q is not a valid domain name", raw)
	}
	exists, err := w.store.CustomDomainExists(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("failed to check custom domain: %w", err)
	}
	return !exists, nil
}

// ListForTenant returns a tenant's requests, newest first
func (w *CustomDomains) ListForTenant(ctx context.Context, tenantID uuid.UUID, page models.Page) (*models.PageResult[models.CustomDomain], error) {
	items, total, err := w.store.ListCustomDomains(ctx, store.RequestFilter{TenantID: &tenantID}, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom domains: %w", err)
	}
	res := models.NewPageResult(items, total, page)
	return &res, nil
}

// ListAll returns every request matching filter, newest first
func (w *CustomDomains) ListAll(ctx context.Context, admin models.Principal, filter DomainFilter, page models.Page) (*models.PageResult[models.CustomDomain], error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(KindValidation, "unknown status %q", filter.Status)
	}
	items, total, err := w.store.ListCustomDomains(ctx, store.RequestFilter{
		Status:      filter.Status,
		DNSVerified: filter.DNSVerified,
	}, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom domains: %w", err)
	}
	res := models.NewPageResult(items, total, page)
	return &res, nil
}

// Get returns any request to an admin
func (w *CustomDomains) Get(ctx context.Context, admin models.Principal, domainID uuid.UUID) (*models.CustomDomain, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return w.get(ctx, w.store, domainID)
}

// Status returns a tenant's own request together with its verification instructions
func (w *CustomDomains) Status(ctx context.Context, tenantID, domainID uuid.UUID) (*DomainStatus, error) {
	row, err := w.get(ctx, w.store, domainID)
	if err != nil {
		return nil, err
	}
	if row.TenantID != tenantID {
		return nil, newError(KindNotFound, "custom domain %s not found", domainID)
	}
	return &DomainStatus{Domain: row, Instructions: InstructionsFor(row)}, nil
}

func (w *CustomDomains) checkDomain(raw string) (string, error) {
	domain := NormalizeDomain(raw)
	if !ValidDomain(domain) {
		return "", newError(KindValidation, "%q is not a valid domain name", raw)
	}
	root := w.cfg.RootDomain
	if root != "" && (domain == root || strings.HasSuffix(domain, "."+root)) {
		return "", newError(KindValidation, "%q belongs to the platform domain", domain)
	}
	return domain, nil
}

func (w *CustomDomains) activeDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	row, err := w.store.FindActiveCustomDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "no active request for domain %q", domain)
		}
		return nil, fmt.Errorf("failed to load custom domain: %w", err)
	}
	return row, nil
}

func (w *CustomDomains) get(ctx context.Context, st store.Store, id uuid.UUID) (*models.CustomDomain, error) {
	row, err := st.GetCustomDomain(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "custom domain %s not found", id)
		}
		return nil, fmt.Errorf("failed to load custom domain: %w", err)
	}
	return row, nil
}

func (w *CustomDomains) updateError(ctx context.Context, id uuid.UUID, err error) error {
	return w.updateErrorIn(ctx, w.store, id, err)
}

// updateErrorIn explains why a conditional update did not apply
func (w *CustomDomains) updateErrorIn(ctx context.Context, st store.Store, id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, "custom domain %s not found", id)
	case errors.Is(err, store.ErrStaleWrite):
		current, getErr := w.get(ctx, st, id)
		if getErr != nil {
			return wrapError(KindPrecondition, err, "custom domain %s changed concurrently", id)
		}
		if current.IsPending() && !current.DNSVerified {
			return newError(KindPrecondition, "domain %q has not passed DNS verification", current.Domain)
		}
		return notPendingDomain(current)
	}
	return fmt.Errorf("failed to update custom domain: %w", err)
}

func notPendingDomain(d *models.CustomDomain) error {
	return newError(KindPrecondition, "custom domain %q is %s; only pending requests can be changed", d.Domain, d.Status)
}

func containsRecord(records []string, expected string) bool {
	for _, r := range records {
		if strings.Contains(r, expected) {
			return true
		}
	}
	return false
}

func newVerificationToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
