package main

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/middleware"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

// setupRouter wires every route of the tenant service
func setupRouter(svc *identity.Service, authMiddleware *middleware.AuthMiddleware, metricsHandler http.Handler, internalToken string, logger logrus.FieldLogger) (*gin.Engine, error) {
	if err := registerValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Tenant service is healthy", nil)
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// Registration hook called by the auth service after sign-up
	internal := router.Group("/internal", requireInternalToken(internalToken))
	{
		internal.POST("/tenants", handleRegisterTenant(svc, logger))
	}

	// Tenant-facing routes
	subdomain := router.Group("/subdomain")
	subdomain.Use(authMiddleware.RequireAuth(), authMiddleware.RequireTenant())
	{
		subdomain.GET("", handleGetSubdomain(svc, logger))
		subdomain.GET("/availability", handleCheckSubdomain(svc, logger))
		subdomain.POST("/ensure", handleEnsureSubdomain(svc, logger))
		subdomain.POST("/requests", handleSubmitSubdomainRequest(svc, logger))
		subdomain.GET("/requests", handleListOwnSubdomainRequests(svc, logger))
		subdomain.PUT("/requests/:id", handleEditOwnSubdomainRequest(svc, logger))
	}

	domains := router.Group("/custom-domains")
	domains.Use(authMiddleware.RequireAuth(), authMiddleware.RequireTenant())
	{
		domains.POST("", handleRequestCustomDomain(svc, logger))
		domains.GET("", handleListOwnCustomDomains(svc, logger))
		domains.GET("/availability", handleCheckCustomDomain(svc, logger))
		domains.POST("/verify", handleVerifyCustomDomain(svc, logger))
		domains.GET("/:id", handleGetCustomDomainStatus(svc, logger))
	}

	// Admin routes; the workflows check the same policy again
	admin := router.Group("/admin")
	admin.Use(authMiddleware.RequireAuth(), authMiddleware.RequireAdmin(svc.Authorizer()))
	{
		admin.GET("/stats", handleGetStats(svc, logger))

		requests := admin.Group("/subdomain-requests")
		requests.GET("", handleListSubdomainRequests(svc, logger))
		requests.PUT("/:id", handleAdminEditSubdomainRequest(svc, logger))
		requests.POST("/:id/approve", handleApproveSubdomainRequest(svc, logger))
		requests.POST("/:id/reject", handleRejectSubdomainRequest(svc, logger))
		requests.POST("/bulk-approve", handleBulkApproveSubdomainRequests(svc, logger))
		requests.POST("/bulk-reject", handleBulkRejectSubdomainRequests(svc, logger))

		customDomains := admin.Group("/custom-domains")
		customDomains.GET("", handleListCustomDomains(svc, logger))
		customDomains.GET("/:id", handleAdminGetCustomDomain(svc, logger))
		customDomains.POST("/:id/approve", handleApproveCustomDomain(svc, logger))
		customDomains.POST("/:id/reject", handleRejectCustomDomain(svc, logger))
		customDomains.POST("/bulk-approve", handleBulkApproveCustomDomains(svc, logger))
		customDomains.POST("/bulk-reject", handleBulkRejectCustomDomains(svc, logger))
	}

	return router, nil
}

// requireInternalToken guards service-to-service routes. An empty token disables them.
func requireInternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Internal-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			utils.ForbiddenResponse(c, "Internal access only")
			c.Abort()
			return
		}
		c.Next()
	}
}
