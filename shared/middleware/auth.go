package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/config"
	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/models"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

const principalKey = "principal"

// AuthMiddleware turns bearer tokens into a models.Principal on the gin context
type AuthMiddleware struct {
	secret []byte
	jwks   *utils.JWKSValidator
	logger logrus.FieldLogger
}

// CognitoClaims are the claims the identity service reads
type CognitoClaims struct {
	Sub            string
	Email          string
	Username       string
	TokenUse       string
	CustomTenantID string
	CustomRole     string
}

// NewAuthMiddleware accepts HMAC tokens when cfg.JWTSecret is set and RS256 tokens when
// cfg.JWKSURL is set
func NewAuthMiddleware(cfg *config.AuthConfig, logger logrus.FieldLogger) (*AuthMiddleware, error) {
	am := &AuthMiddleware{logger: logger}
	if cfg.JWTSecret != "" {
		am.secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWKSURL != "" {
		am.jwks = utils.NewJWKSValidator(cfg.JWKSURL, nil)
	}
	if am.secret == nil && am.jwks == nil {
		return nil, errors.New("either JWT_SECRET or JWKS_URL must be configured")
	}
	return am, nil
}

// RequireAuth rejects requests without a valid token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}

		claims, err := am.parseToken(tokenString)
		if err != nil {
			am.logger.WithField("error", err).Debug("Rejected token")
			utils.UnauthorizedResponse(c, "Invalid token")
			c.Abort()
			return
		}

		principal := models.Principal{
			ID:       claims.Sub,
			Email:    claims.Email,
			Username: claims.Username,
			Role:     models.UserRole(claims.CustomRole),
		}
		if tenantID, err := uuid.Parse(claims.CustomTenantID); err == nil {
			principal.TenantID = &tenantID
		}

		c.Set(principalKey, principal)
		c.Set("user_id", claims.Sub)
		c.Set("email", claims.Email)
		c.Set("tenant_id", claims.CustomTenantID)
		c.Set("role", claims.CustomRole)
		c.Next()
	}
}

// RequireTenant rejects principals that do not belong to a tenant
func (am *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		if !ok || !p.HasTenant() {
			utils.ForbiddenResponse(c, "Tenant information not found")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects principals the policy does not grant admin rights. The identity
// workflows consult the same policy again, so a route that forgets this middleware is
// still protected.
func (am *AuthMiddleware) RequireAdmin(authz identity.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}
		if err := identity.RequireAdmin(c.Request.Context(), authz, p); err != nil {
			utils.RespondError(c, am.logger, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PrincipalFromContext returns the principal set by RequireAuth
func PrincipalFromContext(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

// GetTenantIDFromContext returns the caller's tenant id
func GetTenantIDFromContext(c *gin.Context) (uuid.UUID, error) {
	p, ok := PrincipalFromContext(c)
	if !ok || !p.HasTenant() {
		return uuid.Nil, fmt.Errorf("tenant_id not found in context")
	}
	return *p.TenantID, nil
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

// parseToken verifies the token with the key matching its algorithm
func (am *AuthMiddleware) parseToken(tokenString string) (*CognitoClaims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	var token *jwt.Token
	switch unverified.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if am.secret == nil {
			return nil, errors.New("HMAC tokens are not accepted")
		}
		token, err = jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
			return am.secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	case *jwt.SigningMethodRSA:
		if am.jwks == nil {
			return nil, errors.New("RSA tokens are not accepted")
		}
		token, err = am.jwks.ValidateToken(tokenString)
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", unverified.Header["alg"])
	}
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims format")
	}
	cognitoClaims := &CognitoClaims{
		Sub:            getClaimString(claims, "sub"),
		Email:          getClaimString(claims, "email"),
		Username:       getClaimString(claims, "cognito:username"),
		TokenUse:       getClaimString(claims, "token_use"),
		CustomTenantID: getClaimString(claims, "custom:tenant_id"),
		CustomRole:     getClaimString(claims, "custom:role"),
	}
	if cognitoClaims.Sub == "" {
		return nil, errors.New("token has no subject")
	}
	if cognitoClaims.TokenUse != "" && cognitoClaims.TokenUse != "access" && cognitoClaims.TokenUse != "id" {
		return nil, fmt.Errorf("invalid token use: %q", cognitoClaims.TokenUse)
	}
	if cognitoClaims.CustomRole == "" {
		cognitoClaims.CustomRole = string(models.RoleUser)
	}
	return cognitoClaims, nil
}

// getClaimString safely extracts a string claim from JWT claims
func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// RequestLogger logs one line per request in the service's structured logger
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}
