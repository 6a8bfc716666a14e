package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := E(KindInsufficientInventory, "slot exhausted")
	assert.Equal(t, KindInsufficientInventory, KindOf(err))

	wrapped := fmt.Errorf("creating reservation: %w", err)
	assert.Equal(t, KindInsufficientInventory, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIs(t *testing.T) {
	err := NotFound("reservation")
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindForbidden))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("campaign"), http.StatusNotFound},
		{E(KindInvalidState, "not held"), http.StatusBadRequest},
		{E(KindValidation, "missing field"), http.StatusBadRequest},
		{E(KindInsufficientInventory, "no spots"), http.StatusConflict},
		{E(KindForbidden, "role"), http.StatusForbidden},
		{E(KindSchemaError, "no schema"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindSchemaError, "failed to set search path", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "schema_error")
	assert.Contains(t, err.Error(), "connection refused")
}
