// Package apperr defines the sentinel error taxonomy the broker maps onto
// HTTP statuses and protocol error codes.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinels. Callers branch on these with errors.Is; an unwrapped error is
// treated as INTERNAL.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrIdempotencyClash = errors.New("idempotency conflict")
	ErrUnavailable      = errors.New("unavailable")
)

// Code is the error taxonomy code carried in the HTTP error body.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeTerminalState      Code = "TERMINAL_STATE"
	CodeDuplicatePhase     Code = "DUPLICATE_PHASE"
	CodeDuplicateEntity    Code = "DUPLICATE_ENTITY"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeInternal           Code = "INTERNAL"
	CodeUnavailable        Code = "UNAVAILABLE"
)

// CodedError pairs a taxonomy code with a wrapped sentinel so the HTTP layer
// can report the exact code without re-deriving it from the message.
type CodedError struct {
	Code    Code
	Message string
	Wrapped error
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, errors.Unwrap(e))
}

func (e *CodedError) Unwrap() error { return e.Wrapped }

func newCoded(code Code, wrapped error, msg string) error {
	return &CodedError{Code: code, Message: msg, Wrapped: wrapped}
}

// NotFoundError reports an unknown entity or phase.
func NotFoundError(msg string) error {
	return newCoded(CodeNotFound, ErrNotFound, msg)
}

// ValidationError reports a schema violation, out-of-range value, or
// unknown eventType.
func ValidationError(msg string) error {
	return newCoded(CodeInvalidInput, ErrValidation, msg)
}

// TerminalStateError reports a mutation attempted on a terminal
// entity/phase.
func TerminalStateError(msg string) error {
	return &CodedError{Code: CodeTerminalState, Message: msg, Wrapped: ErrConflict}
}

// DuplicatePhaseError reports a phase key collision on create.
func DuplicatePhaseError(msg string) error {
	return &CodedError{Code: CodeDuplicatePhase, Message: msg, Wrapped: ErrConflict}
}

// DuplicateEntityError reports an entity ID collision on create.
func DuplicateEntityError(msg string) error {
	return &CodedError{Code: CodeDuplicateEntity, Message: msg, Wrapped: ErrConflict}
}

// UnauthorizedError reports a write attempted without a valid API key.
func UnauthorizedError(msg string) error {
	return newCoded(CodeUnauthorized, ErrUnauthorized, msg)
}

// IdempotencyConflictError reports an idempotency key reused for a
// different endpoint or request body.
func IdempotencyConflictError(msg string) error {
	return &CodedError{Code: CodeIdempotencyConflict, Message: msg, Wrapped: ErrIdempotencyClash}
}

// UnavailableError reports a write rejected because the broker is draining
// for shutdown.
func UnavailableError(msg string) error {
	return newCoded(CodeUnavailable, ErrUnavailable, msg)
}

// CodeOf extracts the taxonomy code from err, defaulting to INTERNAL for
// anything that isn't a *CodedError.
func CodeOf(err error) Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
