package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/config"
	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

const testSecret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func setupRouter(t *testing.T, authz identity.Authorizer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	am, err := NewAuthMiddleware(&config.AuthConfig{JWTSecret: testSecret}, logger)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", am.RequireAuth(), am.RequireTenant(), func(c *gin.Context) {
		p, _ := PrincipalFromContext(c)
		tenantID, err := GetTenantIDFromContext(c)
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{"email": p.Email, "tenant_id": tenantID.String()})
	})
	r.GET("/admin", am.RequireAuth(), am.RequireAdmin(authz), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r := setupRouter(t, identity.RoleClaim{})
	tenantID := uuid.New()

	w := do(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired := signed(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
	w = do(r, "/me", expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	noTenant := signed(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	w = do(r, "/me", noTenant)
	assert.Equal(t, http.StatusForbidden, w.Code)

	ok := signed(t, jwt.MapClaims{
		"sub":              "u1",
		"email":            "owner@acme.test",
		"custom:tenant_id": tenantID.String(),
		"exp":              time.Now().Add(time.Hour).Unix(),
	})
	w = do(r, "/me", ok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tenantID.String())
}

func TestRequireAdminUsesPolicy(t *testing.T) {
	r := setupRouter(t, identity.NewEmailAllowList("ops@netqr.io"))

	user := signed(t, jwt.MapClaims{"sub": "u1", "email": "owner@acme.test", "custom:role": string(models.RoleAdmin)})
	w := do(r, "/admin", user)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"forbidden"`)

	admin := signed(t, jwt.MapClaims{"sub": "u2", "email": "OPS@netqr.io"})
	w = do(r, "/admin", admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewAuthMiddlewareNeedsAKey(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewAuthMiddleware(&config.AuthConfig{}, logger)
	assert.Error(t, err)
}
