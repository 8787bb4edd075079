package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/middleware"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

// RegisterTenantRequest represents the registration hook payload
type RegisterTenantRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// SubdomainBody carries a requested subdomain
type SubdomainBody struct {
	Subdomain string `json:"subdomain" binding:"required,subdomain"`
}

// CustomDomainBody carries a requested custom domain
type CustomDomainBody struct {
	Domain string `json:"domain" binding:"required,max=253"`
}

// VerifyDomainBody asks for a DNS check; the token is optional
type VerifyDomainBody struct {
	Domain string `json:"domain" binding:"required,max=253"`
	Token  string `json:"token"`
}

// handleRegisterTenant creates a tenant and assigns its default subdomain
func handleRegisterTenant(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant, err := svc.Assigner.RegisterTenant(c.Request.Context(), req.Name)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.CreatedResponse(c, "Tenant created successfully", tenant)
	}
}

// handleGetSubdomain returns the caller's subdomain, history and custom domain state
func handleGetSubdomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		ident, err := svc.Assigner.Identity(c.Request.Context(), tenantID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain retrieved successfully", ident)
	}
}

// handleCheckSubdomain reports whether ?subdomain= could be requested
func handleCheckSubdomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("subdomain")
		if raw == "" {
			utils.BadRequestResponse(c, "subdomain query parameter is required")
			return
		}
		availability, err := svc.Assigner.CheckAvailability(c.Request.Context(), raw)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Availability checked", availability)
	}
}

// handleEnsureSubdomain backfills a subdomain on first login
func handleEnsureSubdomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		label, err := svc.Assigner.EnsureSubdomain(c.Request.Context(), tenantID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain assigned", gin.H{"subdomain": label})
	}
}

// handleSubmitSubdomainRequest opens a subdomain change request
func handleSubmitSubdomainRequest(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		var body SubdomainBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.BadRequestResponse(c, "Invalid subdomain")
			return
		}

		req, err := svc.Requests.Submit(c.Request.Context(), tenantID, body.Subdomain)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.CreatedResponse(c, "Subdomain request submitted", req)
	}
}

// handleListOwnSubdomainRequests lists the caller's requests
func handleListOwnSubdomainRequests(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		page, ok := pageFromQuery(c)
		if !ok {
			return
		}
		res, err := svc.Requests.ListForTenant(c.Request.Context(), tenantID, page)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain requests retrieved successfully", res)
	}
}

// handleEditOwnSubdomainRequest changes the label of the caller's pending request
func handleEditOwnSubdomainRequest(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
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

		req, err := svc.Requests.EditOwn(c.Request.Context(), tenantID, requestID, body.Subdomain)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Subdomain request updated", req)
	}
}

// handleRequestCustomDomain opens a custom domain request and returns the TXT record to publish
func handleRequestCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		var body CustomDomainBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		row, instructions, err := svc.Domains.RequestDomain(c.Request.Context(), tenantID, body.Domain)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.CreatedResponse(c, "Custom domain requested", identity.DomainStatus{
			Domain:       row,
			Instructions: instructions,
		})
	}
}

// handleListOwnCustomDomains lists the caller's custom domain requests
func handleListOwnCustomDomains(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		page, ok := pageFromQuery(c)
		if !ok {
			return
		}
		res, err := svc.Domains.ListForTenant(c.Request.Context(), tenantID, page)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domains retrieved successfully", res)
	}
}

// handleCheckCustomDomain reports whether ?domain= has never been requested
func handleCheckCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Query("domain")
		if domain == "" {
			utils.BadRequestResponse(c, "domain query parameter is required")
			return
		}
		available, err := svc.Domains.IsDomainAvailable(c.Request.Context(), domain)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Availability checked", gin.H{
			"domain":    identity.NormalizeDomain(domain),
			"available": available,
		})
	}
}

// handleVerifyCustomDomain runs the DNS check for one of the caller's domains
func handleVerifyCustomDomain(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		var body VerifyDomainBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		res, err := svc.Domains.VerifyForTenant(c.Request.Context(), tenantID, body.Domain, body.Token)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}

		if res.Outcome == identity.OutcomeLookupFailed {
			c.JSON(utils.StatusForKind(identity.KindExternalService), utils.APIResponse{
				Success: false,
				Message: res.Message,
				Data:    res,
				Error:   "DNS lookup failed, try again later",
				Code:    string(identity.KindExternalService),
			})
			return
		}
		message := "Domain verified"
		if !res.Verified {
			message = "Verification record not found yet"
		}
		utils.OKResponse(c, message, res)
	}
}

// handleGetCustomDomainStatus returns one of the caller's requests with its instructions
func handleGetCustomDomainStatus(svc *identity.Service, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			return
		}
		domainID, ok := idParam(c)
		if !ok {
			return
		}
		status, err := svc.Domains.Status(c.Request.Context(), tenantID, domainID)
		if err != nil {
			utils.RespondError(c, logger, err)
			return
		}
		utils.OKResponse(c, "Custom domain retrieved successfully", status)
	}
}

func tenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		utils.ForbiddenResponse(c, "Tenant information not found")
		return uuid.Nil, false
	}
	return tenantID, true
}

func idParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func pageFromQuery(c *gin.Context) (models.Page, bool) {
	var page models.Page
	if err := c.ShouldBindQuery(&page); err != nil || !page.Valid() {
		utils.BadRequestResponse(c, "Invalid pagination parameters")
		return models.Page{}, false
	}
	return page, true
}
