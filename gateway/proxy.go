package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

// Headers the gateway owns; client supplied values are dropped
var gatewayHeaders = []string{"X-Tenant-ID", "X-Tenant-Host", "X-Tenant-Host-Kind"}

// ServiceClient handles HTTP communication with an upstream
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

// ServiceClients holds all upstream clients
type ServiceClients struct {
	// TenantService serves the identity API
	TenantService *ServiceClient
	// AppService serves tenant sites once the host is resolved
	AppService *ServiceClient
}

// NewServiceClient creates a new service client
func NewServiceClient(baseURL string) *ServiceClient {
	return &ServiceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProxyRequest proxies the request to the upstream, adding the resolved tenant headers
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	// Build target URL
	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to read request body")
			return
		}
		body = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	// Copy headers
	for key, values := range c.Request.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for _, h := range gatewayHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("X-Forwarded-Host", c.Request.Host)

	// Add tenant context headers
	if resolved, ok := resolvedHostFromContext(c); ok {
		req.Header.Set("X-Tenant-ID", resolved.TenantID.String())
		req.Header.Set("X-Tenant-Host", resolved.Host)
		req.Header.Set("X-Tenant-Host-Kind", resolved.Kind)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		utils.ServiceUnavailableResponse(c, "Failed to communicate with service")
		return
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to read response")
		return
	}

	// Copy response headers
	for key, values := range resp.Header {
		for _, value := range values {
			c.Header(key, value)
		}
	}

	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck() error {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	return nil
}

// GetServiceStatus returns the health of every upstream
func (scs *ServiceClients) GetServiceStatus() map[string]interface{} {
	status := make(map[string]interface{})
	for name, client := range map[string]*ServiceClient{
		"tenant_service": scs.TenantService,
		"app_service":    scs.AppService,
	} {
		if err := client.HealthCheck(); err != nil {
			status[name] = map[string]interface{}{
				"healthy": false,
				"error":   err.Error(),
			}
			continue
		}
		status[name] = map[string]interface{}{
			"healthy": true,
		}
	}
	return status
}
