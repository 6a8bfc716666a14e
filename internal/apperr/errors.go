package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary translation. The API layer maps each
// kind to exactly one HTTP status; services never touch status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindInsufficientInventory
	KindForbidden
	KindSchemaError
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientInventory:
		return "insufficient_inventory"
	case KindForbidden:
		return "forbidden"
	case KindSchemaError:
		return "schema_error"
	case KindValidation:
		return "validation_error"
	default:
		return "internal"
	}
}

// Error is a kind-tagged error. Entity absence and tenant-scope misses share
// KindNotFound so callers cannot distinguish "exists elsewhere" from "does
// not exist".
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a kind-tagged error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef builds a kind-tagged error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NotFound reports a missing or out-of-scope entity.
func NotFound(entity string) *Error {
	return Ef(KindNotFound, "%s not found", entity)
}

// KindOf extracts the kind from an error chain, KindUnknown if untagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to its boundary status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindValidation:
		return http.StatusBadRequest
	case KindInsufficientInventory:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
