package main

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/middleware"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

// RejectBody carries the optional reason stored in admin notes
type RejectBody struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// BulkBody lists the ids of a bulk decision
type BulkBody struct {
	IDs    []uuid.UUID `json:"ids" binding:"required"`
	Reason string      `json:"reason" binding:"max=1000"`
}

func adminFromContext(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Authorization token required")
	}
	return p, ok
}

// handleGetStats returns per-status counts of both moderation queues
func handleGetStats(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		stats, err := svc.Stats(c.Request.Context(), admin)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Stats retrieved successfully", stats)
	}
}

// handleListSubdomainRequests lists requests, optionally filtered by ?status=
func handleListSubdomainRequests(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		page, ok := pageFromQuery(c)
		if !ok {
			return
		}
		status := models.RequestStatus(c.Query("status"))
		res, err := svc.Requests.List(c.Request.Context(), admin, status, page)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain requests retrieved successfully", res)
	}
}

// handleAdminEditSubdomainRequest corrects the label of a pending request
func handleAdminEditSubdomainRequest(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		requestID, ok := idParam(c)
		if !ok {
			return
		}
		var body SubdomainBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.BadRequestResponse(c, "Invalid subdomain")
			return
		}
		req, err := svc.Requests.AdminEdit(c.Request.Context(), admin, requestID, body.Subdomain)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain request updated", req)
	}
}

// handleApproveSubdomainRequest applies a pending request
func handleApproveSubdomainRequest(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		requestID, ok := idParam(c)
		if !ok {
			return
		}
		req, err := svc.Requests.Approve(c.Request.Context(), admin, requestID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain request approved", req)
	}
}

// handleRejectSubdomainRequest closes a pending request
func handleRejectSubdomainRequest(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		requestID, ok := idParam(c)
		if !ok {
			return
		}
		body, ok := rejectBody(c)
		if !ok {
			return
		}
		req, err := svc.Requests.Reject(c.Request.Context(), admin, requestID, body.Reason)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain request rejected", req)
	}
}

func handleBulkApproveSubdomainRequests(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return bulkHandler(logger, "Bulk approval processed", func(c *gin.Context, admin models.Principal, body BulkBody) (*identity.BulkResult, error) {
		return svc.Requests.BulkApprove(c.Request.Context(), admin, body.IDs)
	})
}

func handleBulkRejectSubdomainRequests(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return bulkHandler(logger, "Bulk rejection processed", func(c *gin.Context, admin models.Principal, body BulkBody) (*identity.BulkResult, error) {
		return svc.Requests.BulkReject(c.Request.Context(), admin, body.IDs, body.Reason)
	})
}

// handleListCustomDomains lists requests filtered by ?status= and ?dns_verified=
func handleListCustomDomains(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		page, ok := pageFromQuery(c)
		if !ok {
			return
		}
		filter := identity.DomainFilter{Status: models.RequestStatus(c.Query("status"))}
		if raw := c.Query("dns_verified"); raw != "" {
			verified, err := strconv.ParseBool(raw)
			if err != nil {
				utils.BadRequestResponse(c, "dns_verified must be true or false")
				return
			}
			filter.DNSVerified = &verified
		}

		res, err := svc.Domains.ListAll(c.Request.Context(), admin, filter, page)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domains retrieved successfully", res)
	}
}

// handleAdminGetCustomDomain returns any request
func handleAdminGetCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		domainID, ok := idParam(c)
		if !ok {
			return
		}
		row, err := svc.Domains.Get(c.Request.Context(), admin, domainID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domain retrieved successfully", identity.DomainStatus{
			Domain:       row,
			Instructions: identity.InstructionsFor(row),
		})
	}
}

// handleApproveCustomDomain enables a verified domain on its tenant
func handleApproveCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		domainID, ok := idParam(c)
		if !ok {
			return
		}
		row, err := svc.Domains.Approve(c.Request.Context(), admin, domainID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domain approved", row)
	}
}

// handleRejectCustomDomain closes a pending domain request
func handleRejectCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		domainID, ok := idParam(c)
		if !ok {
			return
		}
		body, ok := rejectBody(c)
		if !ok {
			return
		}
		row, err := svc.Domains.Reject(c.Request.Context(), admin, domainID, body.Reason)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domain rejected", row)
	}
}

func handleBulkApproveCustomDomains(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return bulkHandler(logger, "Bulk approval processed", func(c *gin.Context, admin models.Principal, body BulkBody) (*identity.BulkResult, error) {
		return svc.Domains.BulkApprove(c.Request.Context(), admin, body.IDs)
	})
}

func handleBulkRejectCustomDomains(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return bulkHandler(logger, "Bulk rejection processed", func(c *gin.Context, admin models.Principal, body BulkBody) (*identity.BulkResult, error) {
		return svc.Domains.BulkReject(c.Request.Context(), admin, body.IDs, body.Reason)
	})
}

// bulkHandler binds a BulkBody and runs fn; per-item failures are reported in the result
func bulkHandler(logger logrus.FieldLogger, message string, fn func(*gin.Context, models.Principal, BulkBody) (*identity.BulkResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := adminFromContext(c)
		if !ok {
			return
		}
		var body BulkBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		res, err := fn(c, admin, body)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, message, res)
	}
}

// rejectBody binds an optional reject body; an empty request body means no reason
func rejectBody(c *gin.Context) (RejectBody, bool) {
	var body RejectBody
	if c.Request.ContentLength == 0 {
		return body, true
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.BadRequestResponse(c, "Invalid request format")
		return body, false
	}
	return body, true
}
