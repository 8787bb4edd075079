package identity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("approve: %w", newError(KindConflict, "subdomain %q is already taken", "acme"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, `approve: subdomain "acme" is already taken`, err.Error())

	cause := errors.New("i/o timeout")
	wrapped := wrapError(KindExternalService, cause, "TXT lookup failed")
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, Retryable(wrapped))
	assert.False(t, Retryable(err))

	assert.Equal(t, Kind(""), KindOf(cause))
}
