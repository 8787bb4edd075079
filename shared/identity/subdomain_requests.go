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

const entitySubdomainRequest = "subdomain_request"

// SubdomainRequests moderates tenant requests to change subdomain.
//
// A request moves pending -> approved or pending -> rejected, both terminal. While pending
// its label may be edited. Approval hands the actual change to the Assigner inside the same
// transaction, so a failed change leaves the request pending.
type SubdomainRequests struct {
	store    store.Store
	assigner *Assigner
	authz    Authorizer
	opts     Options
}

// NewSubdomainRequests creates the workflow
func NewSubdomainRequests(st store.Store, assigner *Assigner, authz Authorizer, opts Options) *SubdomainRequests {
	return &SubdomainRequests{store: st, assigner: assigner, authz: authz, opts: opts.withDefaults()}
}

// Submit records a pending request for tenantID to move to requested
func (w *SubdomainRequests) Submit(ctx context.Context, tenantID uuid.UUID, requested string) (*models.SubdomainRequest, error) {
	label, err := checkSubdomain(requested)
	if err != nil {
		return nil, err
	}
	if _, err := w.store.GetTenant(ctx, tenantID); err != nil {
		return nil, tenantLookupError(tenantID, err)
	}
	if err := labelFree(ctx, w.store, label, uuid.Nil); err != nil {
		return nil, err
	}

	now := w.opts.Now()
	req := &models.SubdomainRequest{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		RequestedSubdomain: label,
		Status:             models.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := w.store.CreateSubdomainRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, wrapError(KindConflict, err, "subdomain %q has already been requested", label)
		}
		return nil, fmt.Errorf("failed to create subdomain request: %w", err)
	}

	w.opts.Metrics.Transition(entitySubdomainRequest, string(models.StatusPending))
	w.opts.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"request_id": req.ID,
		"subdomain":  label,
	}).Info("Subdomain request submitted")
	w.opts.publish(ctx, Event{
		Type:      EventSubdomainRequestSubmitted,
		TenantID:  tenantID,
		Subdomain: label,
		RecordID:  &req.ID,
	})
	return req, nil
}

// EditOwn lets a tenant change the label of its own pending request
func (w *SubdomainRequests) EditOwn(ctx context.Context, tenantID, requestID uuid.UUID, value string) (*models.SubdomainRequest, error) {
	req, err := w.get(ctx, w.store, requestID)
	if err != nil {
		return nil, err
	}
	if req.TenantID != tenantID {
		return nil, newError(KindNotFound, "subdomain request %s not found", requestID)
	}
	return w.edit(ctx, req, value, "")
}

// AdminEdit lets an admin correct the label of a pending request before deciding on it
func (w *SubdomainRequests) AdminEdit(ctx context.Context, admin models.Principal, requestID uuid.UUID, value string) (*models.SubdomainRequest, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	req, err := w.get(ctx, w.store, requestID)
	if err != nil {
		return nil, err
	}
	return w.edit(ctx, req, value, admin.Actor())
}

func (w *SubdomainRequests) edit(ctx context.Context, req *models.SubdomainRequest, value, actor string) (*models.SubdomainRequest, error) {
	if !req.IsPending() {
		return nil, notPending(req)
	}
	label, err := checkSubdomain(value)
	if err != nil {
		return nil, err
	}
	if err := labelFree(ctx, w.store, label, req.ID); err != nil {
		return nil, err
	}

	update := store.SubdomainRequestUpdate{RequestedSubdomain: &label, UpdatedAt: w.opts.Now()}
	if err := w.store.UpdatePendingSubdomainRequest(ctx, req.ID, update); err != nil {
		return nil, w.updateError(ctx, w.store, req.ID, err, label)
	}

	w.opts.Logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"from":       req.RequestedSubdomain,
		"to":         label,
		"actor":      actor,
	}).Info("Subdomain request edited")
	return w.get(ctx, w.store, req.ID)
}

// Approve applies the requested subdomain to the tenant and closes the request
func (w *SubdomainRequests) Approve(ctx context.Context, admin models.Principal, requestID uuid.UUID) (*models.SubdomainRequest, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return w.approve(ctx, admin, requestID)
}

func (w *SubdomainRequests) approve(ctx context.Context, admin models.Principal, requestID uuid.UUID) (*models.SubdomainRequest, error) {
	actor := admin.Actor()
	var (
		approved *models.SubdomainRequest
		change   changeResult
	)
	err := w.store.WithinTx(ctx, func(tx store.Store) error {
		req, err := w.get(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.IsPending() {
			return notPending(req)
		}

		// claim the row first so a concurrent approve or reject sees it as decided
		now := w.opts.Now()
		status := models.StatusApproved
		update := store.SubdomainRequestUpdate{
			Status:     &status,
			ReviewedBy: &actor,
			ApprovedAt: &now,
			UpdatedAt:  now,
		}
		if err := tx.UpdatePendingSubdomainRequest(ctx, requestID, update); err != nil {
			return w.updateError(ctx, tx, requestID, err, req.RequestedSubdomain)
		}

		change, err = w.assigner.changeTo(ctx, tx, req.TenantID, req.RequestedSubdomain)
		if err != nil {
			return err
		}

		approved, err = w.get(ctx, tx, requestID)
		return err
	})
	if err != nil {
		w.opts.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"actor":      actor,
			"error":      err,
		}).Warn("Subdomain request approval failed")
		return nil, err
	}

	w.assigner.changed(ctx, change, actor)
	w.opts.Metrics.Transition(entitySubdomainRequest, string(models.StatusApproved))
	w.opts.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"tenant_id":  approved.TenantID,
		"subdomain":  approved.RequestedSubdomain,
		"actor":      actor,
	}).Info("Subdomain request approved")
	w.opts.publish(ctx, Event{
		Type:              EventSubdomainRequestApproved,
		TenantID:          approved.TenantID,
		Subdomain:         approved.RequestedSubdomain,
		PreviousSubdomain: change.previous,
		RecordID:          &approved.ID,
		Actor:             actor,
	})
	return approved, nil
}

// Reject closes a pending request, keeping reason in its admin notes
func (w *SubdomainRequests) Reject(ctx context.Context, admin models.Principal, requestID uuid.UUID, reason string) (*models.SubdomainRequest, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return w.reject(ctx, admin, requestID, reason)
}

func (w *SubdomainRequests) reject(ctx context.Context, admin models.Principal, requestID uuid.UUID, reason string) (*models.SubdomainRequest, error) {
	actor := admin.Actor()
	reason = strings.TrimSpace(reason)
	now := w.opts.Now()
	status := models.StatusRejected
	update := store.SubdomainRequestUpdate{
		Status:     &status,
		AdminNotes: &reason,
		ReviewedBy: &actor,
		RejectedAt: &now,
		UpdatedAt:  now,
	}
	if err := w.store.UpdatePendingSubdomainRequest(ctx, requestID, update); err != nil {
		return nil, w.updateError(ctx, w.store, requestID, err, "")
	}

	rejected, err := w.get(ctx, w.store, requestID)
	if err != nil {
		return nil, err
	}
	w.opts.Metrics.Transition(entitySubdomainRequest, string(models.StatusRejected))
	w.opts.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"tenant_id":  rejected.TenantID,
		"actor":      actor,
	}).Info("Subdomain request rejected")
	w.opts.publish(ctx, Event{
		Type:      EventSubdomainRequestRejected,
		TenantID:  rejected.TenantID,
		Subdomain: rejected.RequestedSubdomain,
		RecordID:  &rejected.ID,
		Actor:     actor,
	})
	return rejected, nil
}

// BulkApprove approves each id independently
func (w *SubdomainRequests) BulkApprove(ctx context.Context, admin models.Principal, ids []uuid.UUID) (*BulkResult, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return runBulk(ids, func(id uuid.UUID) error {
		_, err := w.approve(ctx, admin, id)
		return err
	})
}

// BulkReject rejects each id independently with the same reason
func (w *SubdomainRequests) BulkReject(ctx context.Context, admin models.Principal, ids []uuid.UUID, reason string) (*BulkResult, error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	return runBulk(ids, func(id uuid.UUID) error {
		_, err := w.reject(ctx, admin, id, reason)
		return err
	})
}

// List returns requests newest first, optionally filtered by status
func (w *SubdomainRequests) List(ctx context.Context, admin models.Principal, status models.RequestStatus, page models.Page) (*models.PageResult[models.SubdomainRequest], error) {
	if err := RequireAdmin(ctx, w.authz, admin); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, newError(KindValidation, "unknown status %q", status)
	}
	items, total, err := w.store.ListSubdomainRequests(ctx, store.RequestFilter{Status: status}, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list subdomain requests: %w", err)
	}
	res := models.NewPageResult(items, total, page)
	return &res, nil
}

// ListForTenant returns a tenant's own requests, newest first
func (w *SubdomainRequests) ListForTenant(ctx context.Context, tenantID uuid.UUID, page models.Page) (*models.PageResult[models.SubdomainRequest], error) {
	items, total, err := w.store.ListSubdomainRequests(ctx, store.RequestFilter{TenantID: &tenantID}, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list subdomain requests: %w", err)
	}
	res := models.NewPageResult(items, total, page)
	return &res, nil
}

func (w *SubdomainRequests) get(ctx context.Context, st store.Store, id uuid.UUID) (*models.SubdomainRequest, error) {
	req, err := st.GetSubdomainRequest(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "subdomain request %s not found", id)
		}
		return nil, fmt.Errorf("failed to load subdomain request: %w", err)
	}
	return req, nil
}

// updateError explains why a conditional update on a pending request did not apply
func (w *SubdomainRequests) updateError(ctx context.Context, st store.Store, id uuid.UUID, err error, label string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, "subdomain request %s not found", id)
	case errors.Is(err, store.ErrUniqueViolation):
		return wrapError(KindConflict, err, "subdomain %q has already been requested", label)
	case errors.Is(err, store.ErrStaleWrite):
		if current, getErr := w.get(ctx, st, id); getErr == nil {
			return notPending(current)
		}
		return wrapError(KindPrecondition, err, "subdomain request %s is no longer pending", id)
	}
	return fmt.Errorf("failed to update subdomain request: %w", err)
}

func notPending(req *models.SubdomainRequest) error {
	return newError(KindPrecondition, "subdomain request %s is %s; only pending requests can be changed", req.ID, req.Status)
}

// labelFree checks that no tenant uses label and no other active request holds it
func labelFree(ctx context.Context, st store.Store, label string, exceptRequest uuid.UUID) error {
	if _, err := st.FindTenantBySubdomain(ctx, label); err == nil {
		return newError(KindConflict, "subdomain %q is already taken", label)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check subdomain: %w", err)
	}

	existing, err := st.FindActiveSubdomainRequest(ctx, label)
	switch {
	case err == nil && existing.ID != exceptRequest:
		return newError(KindConflict, "subdomain %q has already been requested", label)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to check subdomain requests: %w", err)
	}
	return nil
}
