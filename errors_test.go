package laraplate

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/fernandezvara/dbkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSentinelErrors tests that all sentinel errors are properly defined
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrUnknownPermission", ErrUnknownPermission, "laraplate: unknown permission"},
		{"ErrInvalidFilterField", ErrInvalidFilterField, "laraplate: invalid filter field"},
		{"ErrInvalidSortDirection", ErrInvalidSortDirection, "laraplate: invalid sort direction"},
		{"ErrUnknownModel", ErrUnknownModel, "laraplate: unknown model"},
		{"ErrInvalidRole", ErrInvalidRole, "laraplate: invalid role"},
		{"ErrStaleModelLocking", ErrStaleModelLocking, "laraplate: stale model locking"},
		{"ErrLockExpired", ErrLockExpired, "laraplate: lock expired"},
		{"ErrResourceNotFound", ErrResourceNotFound, "laraplate: resource not found"},
		{"ErrDatabaseError", ErrDatabaseError, "laraplate: database error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}
}

// TestError_Error tests the Error method of Error struct
func TestError_Error(t *testing.T) {
	t.Run("With message", func(t *testing.T) {
		err := NewError(ErrInvalidFilterField, `field "secret" is not reachable from model "invoices"`)
		assert.Equal(t, `laraplate: invalid filter field: field "secret" is not reachable from model "invoices"`, err.Error())
	})

	t.Run("Without message", func(t *testing.T) {
		err := &Error{Err: ErrStaleModelLocking}
		assert.Equal(t, "laraplate: stale model locking", err.Error())
	})
}

// TestError_Is tests errors.Is through the sentinel and the cause
func TestError_Is(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrDatabaseError, "failed").WithCause(cause)

	assert.True(t, errors.Is(err, ErrDatabaseError))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrStaleModelLocking))

	wrapped := fmt.Errorf("listing invoices: %w", err)
	assert.True(t, errors.Is(wrapped, ErrDatabaseError))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "failed", e.Message)

	stale := fmt.Errorf("saving invoice: %w", NewError(ErrStaleModelLocking, "changed"))
	assert.True(t, errors.Is(stale, dbkit.ErrConflict), "stale locks read as dbkit conflicts")
	assert.False(t, errors.Is(err, dbkit.ErrConflict))
}

// TestError_Context tests the chainable context setters
func TestError_Context(t *testing.T) {
	err := NewError(ErrStaleModelLocking, "captured v1, found v2").
		WithPermission(7).
		WithModel("invoices").
		WithField("updated_at").
		WithResource(Resource{Model: "invoices", ID: 5})

	assert.Equal(t, int64(7), err.PermissionID)
	assert.Equal(t, "invoices", err.Model)
	assert.Equal(t, "updated_at", err.Field)
	assert.Equal(t, "invoices#5", err.Resource)
}

// TestErrorHelpers tests the Is* helper functions
func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsUnknownPermission(NewError(ErrUnknownPermission, "x")))
	assert.True(t, IsInvalidFilterField(NewError(ErrInvalidFilterField, "x")))
	assert.True(t, IsInvalidSortDirection(NewError(ErrInvalidSortDirection, "x")))
	assert.True(t, IsStaleModelLocking(NewError(ErrStaleModelLocking, "x")))
	assert.True(t, IsUnauthorized(ErrUnauthorized))

	assert.False(t, IsStaleModelLocking(ErrLockExpired))
	assert.False(t, IsUnknownPermission(nil))
}

// TestStatusCode tests the error to HTTP status mapping
func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unauthorized", ErrUnauthorized, http.StatusForbidden},
		{"no user", ErrNoUserID, http.StatusForbidden},
		{"unknown permission", NewError(ErrUnknownPermission, "x"), http.StatusNotFound},
		{"resource not found", ErrResourceNotFound, http.StatusNotFound},
		{"rule not found", ErrRuleNotFound, http.StatusNotFound},
		{"role not found", ErrRoleNotFound, http.StatusNotFound},
		{"invalid field", NewError(ErrInvalidFilterField, "x"), http.StatusUnprocessableEntity},
		{"invalid direction", ErrInvalidSortDirection, http.StatusUnprocessableEntity},
		{"invalid rule", ErrInvalidRule, http.StatusUnprocessableEntity},
		{"invalid role", ErrInvalidRole, http.StatusUnprocessableEntity},
		{"unknown model", ErrUnknownModel, http.StatusUnprocessableEntity},
		{"stale", NewError(ErrStaleModelLocking, "x"), http.StatusConflict},
		{"expired", ErrLockExpired, http.StatusConflict},
		{"not held", ErrLockNotHeld, http.StatusConflict},
		{"in use", ErrPermissionInUse, http.StatusConflict},
		{"rule exists", ErrRuleAlreadyExists, http.StatusConflict},
		{"database", ErrDatabaseError, http.StatusInternalServerError},
		{"foreign", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}
