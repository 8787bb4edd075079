package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
)

func TestStatusForKind(t *testing.T) {
	tests := map[identity.Kind]int{
		identity.KindValidation:      http.StatusBadRequest,
		identity.KindReservedName:    http.StatusBadRequest,
		identity.KindConflict:        http.StatusConflict,
		identity.KindPrecondition:    http.StatusConflict,
		identity.KindNotFound:        http.StatusNotFound,
		identity.KindExternalService: http.StatusServiceUnavailable,
		identity.KindLimitExceeded:   http.StatusUnprocessableEntity,
		identity.KindForbidden:       http.StatusForbidden,
		"":                           http.StatusInternalServerError,
	}
	for kind, status := range tests {
		assert.Equal(t, status, StatusForKind(kind), kind)
	}
}

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	RespondError(c, logger, err)
	return w, hook
}

func TestRespondErrorUsesKind(t *testing.T) {
	w, hook := respond(t, fmt.Errorf("approve: %w", identity.ErrLimitExceeded))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "limit_exceeded", body.Code)
	assert.Contains(t, body.Error, "limit exceeded")
	assert.Empty(t, hook.AllEntries())
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	w, hook := respond(t, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
