package core

import (
	"errors"

	"github.com/vovakirdan/socialwire-server/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeNotAMember     = "not_a_member"
	ErrCodeInvalidContent = "invalid_content"
	ErrCodeNotFound       = "not_found"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeStoreError     = "store_error"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	cause   error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error { return e.cause }

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrNotAMember rejects actions against conversations the actor doesn't belong to.
func ErrNotAMember() *CoreError {
	return coreError(ErrCodeNotAMember, "not a member of this conversation")
}

// ErrInvalidContent rejects empty or oversized message bodies.
func ErrInvalidContent(msg string) *CoreError {
	return coreError(ErrCodeInvalidContent, msg)
}

// ErrNotFound reports a missing conversation, message or user.
func ErrNotFound(msg string) *CoreError {
	return coreError(ErrCodeNotFound, msg)
}

// ErrBadRequest reports malformed input.
func ErrBadRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg)
}

// wrapStoreErr maps persistence failures into domain errors. Missing rows
// become not_found; everything else surfaces as a transient store error that
// the client may resubmit.
func wrapStoreErr(err error) *CoreError {
	if errors.Is(err, store.ErrNotFound) {
		return &CoreError{Code: ErrCodeNotFound, Message: err.Error(), cause: err}
	}
	return &CoreError{Code: ErrCodeStoreError, Message: "storage failure", cause: err}
}

// AsCoreError extracts a CoreError from an error chain.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
