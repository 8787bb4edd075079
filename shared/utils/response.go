package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Code is the identity error kind, for clients that branch on it
	Code string `json:"code,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Message: message,
		Error:   message,
	})
}

// StatusForKind maps an identity error kind to an HTTP status
func StatusForKind(kind identity.Kind) int {
	switch kind {
	case identity.KindValidation, identity.KindReservedName:
		return http.StatusBadRequest
	case identity.KindConflict, identity.KindPrecondition:
		return http.StatusConflict
	case identity.KindNotFound:
		return http.StatusNotFound
	case identity.KindExternalService:
		return http.StatusServiceUnavailable
	case identity.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case identity.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// RespondError writes err with the status its kind maps to. Errors without a kind are
// logged and reported as a generic 500.
func RespondError(c *gin.Context, logger logrus.FieldLogger, err error) {
	kind := identity.KindOf(err)
	if kind == "" {
		logger.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err,
		}).Error("Request failed")
		InternalServerErrorResponse(c, "Internal server error")
		return
	}
	c.JSON(StatusForKind(kind), APIResponse{
		Success: false,
		Message: err.Error(),
		Error:   err.Error(),
		Code:    string(kind),
	})
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

// UnauthorizedResponse sends a 401 Unauthorized response
func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message)
}

// ForbiddenResponse sends a 403 Forbidden response
func ForbiddenResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, message)
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

// InternalServerErrorResponse sends a 500 Internal Server Error response
func InternalServerErrorResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}

// ServiceUnavailableResponse sends a 503 Service Unavailable response
func ServiceUnavailableResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, message)
}

// CreatedResponse sends a 201 Created response
func CreatedResponse(c *gin.Context, message string, data interface{}) {
	SuccessResponse(c, http.StatusCreated, message, data)
}

// OKResponse sends a 200 OK response
func OKResponse(c *gin.Context, message string, data interface{}) {
	SuccessResponse(c, http.StatusOK, message, data)
}
