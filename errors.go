package laraplate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fernandezvara/dbkit"
)

// Sentinel errors for laraplate operations.
var (
	// ErrUnknownPermission is returned when a permission id does not resolve to a stored permission.
	ErrUnknownPermission = errors.New("laraplate: unknown permission")

	// ErrInvalidFilterField is returned when an ACL rule references a field the model does not expose.
	ErrInvalidFilterField = errors.New("laraplate: invalid filter field")

	// ErrInvalidSortDirection is returned when a sort direction is neither asc nor desc.
	ErrInvalidSortDirection = errors.New("laraplate: invalid sort direction")

	// ErrUnknownModel is returned when a model has not been defined in the registry.
	ErrUnknownModel = errors.New("laraplate: unknown model")

	// ErrInvalidPermission is returned when a permission name is malformed.
	ErrInvalidPermission = errors.New("laraplate: invalid permission")

	// ErrInvalidRule is returned when an ACL rule fails structural validation.
	ErrInvalidRule = errors.New("laraplate: invalid acl rule")

	// ErrRuleNotFound is returned when an ACL rule does not exist.
	ErrRuleNotFound = errors.New("laraplate: acl rule not found")

	// ErrRuleAlreadyExists is returned when a permission already has an ACL rule.
	ErrRuleAlreadyExists = errors.New("laraplate: acl rule already exists")

	// ErrPermissionInUse is returned when mutating a permission referenced by a rule or a role.
	ErrPermissionInUse = errors.New("laraplate: permission in use")

	// ErrInvalidRole is returned when a role fails validation or its name is taken.
	ErrInvalidRole = errors.New("laraplate: invalid role")

	// ErrRoleNotFound is returned when a role does not exist.
	ErrRoleNotFound = errors.New("laraplate: role not found")

	// ErrUnauthorized is returned when a user lacks the required permission.
	ErrUnauthorized = errors.New("laraplate: unauthorized")

	// ErrNoUserID is returned when user ID is not found in context.
	ErrNoUserID = errors.New("laraplate: no user ID in context")

	// ErrStaleModelLocking is returned when a locked resource changed since acquisition.
	// An *Error carrying it also matches dbkit.ErrConflict.
	ErrStaleModelLocking = errors.New("laraplate: stale model locking")

	// ErrLockExpired is returned when a lock outlived its hold window.
	ErrLockExpired = errors.New("laraplate: lock expired")

	// ErrLockNotHeld is returned when operating on a released, stale or expired handle.
	ErrLockNotHeld = errors.New("laraplate: lock not held")

	// ErrResourceNotFound is returned when a locked resource row does not exist.
	ErrResourceNotFound = errors.New("laraplate: resource not found")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("laraplate: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err          error  // Underlying sentinel error
	Message      string // Additional context
	PermissionID int64  // Permission involved (if applicable)
	Model        string // Model involved (if applicable)
	Field        string // Field involved (if applicable)
	Resource     string // Locked resource (if applicable)
	Cause        error  // Lower level error (database, validation)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying errors for errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	if target == dbkit.ErrConflict && errors.Is(e.Err, ErrStaleModelLocking) {
		return true
	}
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithPermission adds the permission id to the error.
func (e *Error) WithPermission(id int64) *Error {
	e.PermissionID = id
	return e
}

// WithModel adds model information to the error.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// WithField adds field information to the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithResource adds the locked resource to the error.
func (e *Error) WithResource(r Resource) *Error {
	e.Resource = r.String()
	return e
}

// WithCause attaches the lower level error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// IsUnknownPermission checks if an error is due to an unknown permission id.
func IsUnknownPermission(err error) bool {
	return errors.Is(err, ErrUnknownPermission)
}

// IsInvalidFilterField checks if an error is due to a field outside the model allowlist.
func IsInvalidFilterField(err error) bool {
	return errors.Is(err, ErrInvalidFilterField)
}

// IsInvalidSortDirection checks if an error is due to a bad sort direction.
func IsInvalidSortDirection(err error) bool {
	return errors.Is(err, ErrInvalidSortDirection)
}

// IsStaleModelLocking checks if an error is a concurrent modification conflict.
func IsStaleModelLocking(err error) bool {
	return errors.Is(err, ErrStaleModelLocking)
}

// IsUnauthorized checks if an error is an authorization error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// StatusCode maps an error to the HTTP status a caller should surface.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoUserID):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownPermission),
		errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidFilterField),
		errors.Is(err, ErrInvalidSortDirection),
		errors.Is(err, ErrInvalidPermission),
		errors.Is(err, ErrInvalidRule),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrUnknownModel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStaleModelLocking),
		errors.Is(err, ErrLockExpired),
		errors.Is(err, ErrLockNotHeld),
		errors.Is(err, ErrPermissionInUse),
		errors.Is(err, ErrRuleAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
