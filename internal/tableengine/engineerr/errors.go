// Package engineerr defines the Table Engine's error kinds and the
// machine-readable Error type surfaced to callers.
package engineerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for kinds that call sites commonly check with errors.Is.
var (
	ErrTableNotFound       = errors.New("table not found")
	ErrFieldNotFound       = errors.New("field not found")
	ErrRecordNotFound      = errors.New("record not found")
	ErrNameConflict        = errors.New("name conflict")
	ErrVersionConflict     = errors.New("version conflict")
	ErrSchemaConflict      = errors.New("schema conflict")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrMigrationConflict   = errors.New("migration conflict")
	ErrCannotDeletePrimary = errors.New("cannot delete primary field")
	ErrForbidden           = errors.New("forbidden")
	ErrCanceled            = errors.New("canceled")
	ErrTimeout             = errors.New("timeout")
)

// Code is a stable, machine-readable error code string.
type Code string

const (
	CodeInvalidFieldType    Code = "INVALID_FIELD_TYPE"
	CodeInvalidFieldName    Code = "INVALID_FIELD_NAME"
	CodeInvalidOption       Code = "INVALID_OPTION"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeNameConflict        Code = "NAME_CONFLICT"
	CodeVersionConflict     Code = "VERSION_CONFLICT"
	CodeSchemaConflict      Code = "SCHEMA_CONFLICT"
	CodeCircularDependency  Code = "CIRCULAR_DEPENDENCY"
	CodeMigrationConflict   Code = "MIGRATION_CONFLICT"
	CodeTableNotFound       Code = "TABLE_NOT_FOUND"
	CodeFieldNotFound       Code = "FIELD_NOT_FOUND"
	CodeRecordNotFound      Code = "RECORD_NOT_FOUND"
	CodeCannotDeletePrimary Code = "CANNOT_DELETE_PRIMARY"
	CodeForbidden           Code = "FORBIDDEN"
	CodeDBError             Code = "DB_ERROR"
	CodePubSubError         Code = "PUBSUB_ERROR"
	CodeCanceled            Code = "CANCELED"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternalError       Code = "INTERNAL_ERROR"
)

// Error is the error type surfaced at the engine/API boundary. It carries a
// stable Code, a human-readable Message, and optional structured Details
// (e.g. the cycle path for CircularDependency, the current version for
// VersionConflict).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped infrastructure error, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NotFound builds a NotFound-kind error for the given resource code
// (CodeTableNotFound, CodeFieldNotFound, or CodeRecordNotFound).
func NotFound(code Code, resourceID string) *Error {
	e := newError(code, fmt.Sprintf("%s not found", resourceID))
	e.Details = map[string]any{"id": resourceID}
	return e
}

// Conflict builds a generic Conflict-kind error.
func Conflict(code Code, message string) *Error {
	return newError(code, message)
}

// NameConflict builds a NameConflict error for a duplicate display name.
func NameConflict(name string) *Error {
	e := newError(CodeNameConflict, fmt.Sprintf("name %q is already in use", name))
	e.Details = map[string]any{"name": name}
	return e
}

// VersionConflict builds a VersionConflict error carrying the current
// version so the client can re-base.
func VersionConflict(current int64) *Error {
	e := newError(CodeVersionConflict, "record was modified by another writer")
	e.Details = map[string]any{"current": current}
	return e
}

// CircularDependency builds a CircularDependency error carrying the ordered
// cycle path.
func CircularDependency(path []string) *Error {
	e := newError(CodeCircularDependency, "field options would introduce a circular dependency")
	e.Details = map[string]any{"cycle": path}
	return e
}

// MigrationConflict builds a MigrationConflict error for a relationship-type
// migration that cannot preserve data.
func MigrationConflict(message string) *Error {
	return newError(CodeMigrationConflict, message)
}

// ValidationFailed builds a generic validation error.
func ValidationFailed(message string) *Error {
	return newError(CodeValidationFailed, message)
}

// Forbidden wraps a permission denial from the external collaborator,
// surfaced unchanged.
func Forbidden(message string) *Error {
	return newError(CodeForbidden, message)
}

// DBError wraps an infrastructure error from the database layer with a
// stable code, preserving the original via %w/errors.Unwrap.
func DBError(err error) *Error {
	e := newError(CodeDBError, "database operation failed")
	e.cause = err
	return e
}

// PubSubError wraps an infrastructure error from the pub/sub layer.
func PubSubError(err error) *Error {
	e := newError(CodePubSubError, "pub/sub operation failed")
	e.cause = err
	return e
}

// Internal builds an InternalError for unexpected state; callers must log
// the full context alongside this error.
func Internal(message string) *Error {
	return newError(CodeInternalError, message)
}
