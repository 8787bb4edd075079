package identity

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

func TestSubdomainRequestApproval(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	original := *tenant.Subdomain

	req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "MyBrand")
	require.NoError(t, err)
	assert.Equal(t, "mybrand", req.RequestedSubdomain)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, original, f.reload(t, tenant.ID).CurrentSubdomain())

	approved, err := f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, testAdmin.Email, approved.ReviewedBy)
	assert.NotNil(t, approved.ApprovedAt)

	assert.Equal(t, "mybrand", f.reload(t, tenant.ID).CurrentSubdomain())
	history, err := f.svc.Assigner.History(f.ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, original, history[0].Subdomain)

	assert.Equal(t, 1, f.events.count(EventSubdomainRequestSubmitted))
	assert.Equal(t, 1, f.events.count(EventSubdomainChanged))
	assert.Equal(t, 1, f.events.count(EventSubdomainRequestApproved))
}

func TestSubdomainRequestDecisionsAreFinal(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)

	req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "first-brand")
	require.NoError(t, err)
	_, err = f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
	requireKind(t, err, KindPrecondition)
	_, err = f.svc.Requests.Reject(f.ctx, testAdmin, req.ID, "too late")
	requireKind(t, err, KindPrecondition)

	other, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "second-brand")
	require.NoError(t, err)
	rejected, err := f.svc.Requests.Reject(f.ctx, testAdmin, other.ID, "  trademark  ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "trademark", rejected.AdminNotes)
	assert.NotNil(t, rejected.RejectedAt)

	_, err = f.svc.Requests.Approve(f.ctx, testAdmin, other.ID)
	requireKind(t, err, KindPrecondition)
	assert.Equal(t, "first-brand", f.reload(t, tenant.ID).CurrentSubdomain())

	_, err = f.svc.Requests.Approve(f.ctx, testAdmin, uuid.New())
	requireKind(t, err, KindNotFound)
}

func TestSubdomainRequestNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "my-brand")
	require.NoError(t, err)

	owner := models.Principal{ID: "u1", Email: "owner@acme.test", Role: models.RoleAdmin, TenantID: &tenant.ID}
	_, err = f.svc.Requests.Approve(f.ctx, owner, req.ID)
	requireKind(t, err, KindForbidden)
	_, err = f.svc.Requests.Reject(f.ctx, owner, req.ID, "")
	requireKind(t, err, KindForbidden)
	_, err = f.svc.Requests.AdminEdit(f.ctx, owner, req.ID, "other")
	requireKind(t, err, KindForbidden)
	_, err = f.svc.Requests.List(f.ctx, owner, "", models.Page{})
	requireKind(t, err, KindForbidden)

	current, err := f.st.GetSubdomainRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
}

func TestSubmitConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t)
	b := f.tenant(t)

	_, err := f.svc.Requests.Submit(f.ctx, a.ID, *b.Subdomain)
	requireKind(t, err, KindConflict)

	_, err = f.svc.Requests.Submit(f.ctx, a.ID, "shared")
	require.NoError(t, err)
	_, err = f.svc.Requests.Submit(f.ctx, b.ID, "SHARED")
	requireKind(t, err, KindConflict)

	_, err = f.svc.Requests.Submit(f.ctx, a.ID, "www")
	requireKind(t, err, KindReservedName)
	_, err = f.svc.Requests.Submit(f.ctx, uuid.New(), "nobody")
	requireKind(t, err, KindNotFound)
}

func TestRejectedLabelCanBeRequestedAgain(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t)
	b := f.tenant(t)

	req, err := f.svc.Requests.Submit(f.ctx, a.ID, "popular")
	require.NoError(t, err)
	_, err = f.svc.Requests.Reject(f.ctx, testAdmin, req.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Requests.Submit(f.ctx, b.ID, "popular")
	assert.NoError(t, err)
}

func TestConcurrentSubmitsForSameLabel(t *testing.T) {
	f := newFixture(t)
	const n = 10
	tenants := make([]*models.Tenant, n)
	for i := range tenants {
		tenants[i] = f.tenant(t)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, tenant := range tenants {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Requests.Submit(f.ctx, id, "hot-name")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if KindOf(err) == KindConflict {
				conflicts++
			}
		}(tenant.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
}

func TestConcurrentApproveAndReject(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "contested")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.Requests.Reject(f.ctx, testAdmin, req.ID, "")
	}()
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			requireKind(t, err, KindPrecondition)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	current, err := f.st.GetSubdomainRequest(f.ctx, req.ID)
	require.NoError(t, err)
	if current.Status == models.StatusApproved {
		assert.Equal(t, "contested", f.reload(t, tenant.ID).CurrentSubdomain())
	} else {
		assert.NotEqual(t, "contested", f.reload(t, tenant.ID).CurrentSubdomain())
	}
}

func TestApprovalFailureLeavesRequestPending(t *testing.T) {
	t.Run("history full", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.tenant(t)
		for i := 1; i <= models.MaxSubdomainChanges; i++ {
			_, err := f.svc.Assigner.ChangeTo(f.ctx, tenant.ID, fmt.Sprintf("step-%d", i))
			require.NoError(t, err)
		}
		req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, "one-more")
		require.NoError(t, err)

		_, err = f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
		requireKind(t, err, KindLimitExceeded)

		current, err := f.st.GetSubdomainRequest(f.ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, current.Status)
		assert.Empty(t, current.ReviewedBy)
		assert.Equal(t, "step-5", f.reload(t, tenant.ID).CurrentSubdomain())
	})

	t.Run("label taken since submit", func(t *testing.T) {
		f := newFixture(t)
		a := f.tenant(t)
		b := f.tenant(t)
		req, err := f.svc.Requests.Submit(f.ctx, a.ID, "race-name")
		require.NoError(t, err)
		_, err = f.svc.Assigner.ChangeTo(f.ctx, b.ID, "race-name")
		require.NoError(t, err)

		_, err = f.svc.Requests.Approve(f.ctx, testAdmin, req.ID)
		requireKind(t, err, KindConflict)

		current, err := f.st.GetSubdomainRequest(f.ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, current.Status)
		assert.Equal(t, *a.Subdomain, f.reload(t, a.ID).CurrentSubdomain())
		assert.Zero(t, f.events.count(EventSubdomainRequestApproved))
	})
}

func TestEditPendingRequest(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t)
	b := f.tenant(t)
	req, err := f.svc.Requests.Submit(f.ctx, a.ID, "draft-name")
	require.NoError(t, err)

	edited, err := f.svc.Requests.EditOwn(f.ctx, a.ID, req.ID, "Final-Name")
	require.NoError(t, err)
	assert.Equal(t, "final-name", edited.RequestedSubdomain)

	_, err = f.svc.Requests.EditOwn(f.ctx, b.ID, req.ID, "stolen")
	requireKind(t, err, KindNotFound)

	// the old label is free again
	_, err = f.svc.Requests.Submit(f.ctx, b.ID, "draft-name")
	require.NoError(t, err)
	_, err = f.svc.Requests.EditOwn(f.ctx, a.ID, req.ID, "draft-name")
	requireKind(t, err, KindConflict)

	edited, err = f.svc.Requests.AdminEdit(f.ctx, testAdmin, req.ID, "admin-fixed")
	require.NoError(t, err)
	assert.Equal(t, "admin-fixed", edited.RequestedSubdomain)

	_, err = f.svc.Requests.Reject(f.ctx, testAdmin, req.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Requests.EditOwn(f.ctx, a.ID, req.ID, "after-reject")
	requireKind(t, err, KindPrecondition)
}

func TestBulkApprove(t *testing.T) {
	f := newFixture(t)
	ids := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		tenant := f.tenant(t)
		req, err := f.svc.Requests.Submit(f.ctx, tenant.ID, fmt.Sprintf("bulk-%d", i))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	_, err := f.svc.Requests.Reject(f.ctx, testAdmin, ids[1], "")
	require.NoError(t, err)

	res, err := f.svc.Requests.BulkApprove(f.ctx, testAdmin, ids)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].Success)
	assert.False(t, res.Items[1].Success)
	assert.Equal(t, KindPrecondition, res.Items[1].Kind)
	assert.Equal(t, ids[2], res.Items[2].ID)

	_, err = f.svc.Requests.BulkReject(f.ctx, testAdmin, nil, "")
	requireKind(t, err, KindValidation)

	tooMany := make([]uuid.UUID, MaxBulkItems+1)
	_, err = f.svc.Requests.BulkApprove(f.ctx, testAdmin, tooMany)
	requireKind(t, err, KindValidation)
}

func TestListSubdomainRequests(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Requests.Submit(f.ctx, tenant.ID, fmt.Sprintf("list-%d", i))
		require.NoError(t, err)
	}

	page, err := f.svc.Requests.List(f.ctx, testAdmin, models.StatusPending, models.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 2)

	_, err = f.svc.Requests.List(f.ctx, testAdmin, "archived", models.Page{})
	requireKind(t, err, KindValidation)

	own, err := f.svc.Requests.ListForTenant(f.ctx, tenant.ID, models.Page{})
	require.NoError(t, err)
	assert.Len(t, own.Items, 3)
}
