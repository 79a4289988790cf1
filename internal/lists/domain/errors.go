package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat indicates a payload that is not syntactically valid for
	// its container type. Usually a corrupted transfer; callers may re-fetch.
	ErrInvalidFormat = errors.New("invalid list format")

	// ErrSchemaMismatch indicates a well-formed payload that violates the
	// expected record shape. Usually version skew; not retried.
	ErrSchemaMismatch = errors.New("list schema mismatch")

	// ErrIntegrityMismatch indicates a payload whose computed spec disagrees
	// with the declared manifest. The payload is discarded.
	ErrIntegrityMismatch = errors.New("list integrity mismatch")

	// ErrPersistence indicates the atomic on-disk replace could not complete.
	ErrPersistence = errors.New("list persistence failure")
)

// DecodeErrorKind classifies a decoding failure.
type DecodeErrorKind uint8

const (
	// InvalidJSON: content is not syntactically valid for the expected container.
	InvalidJSON DecodeErrorKind = iota
	// TypeMismatch: content is valid JSON but does not match the expected schema.
	TypeMismatch
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidJSON:
		return "invalidJson"
	case TypeMismatch:
		return "typeMismatch"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", k)
	}
}

// DecodeError is returned by the list parsers.
type DecodeError struct {
	List  ListKey
	Kind  DecodeErrorKind
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s list: %s: %v", e.List, e.Kind, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Is maps the decode kind onto ErrInvalidFormat / ErrSchemaMismatch.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrInvalidFormat:
		return e.Kind == InvalidJSON
	case ErrSchemaMismatch:
		return e.Kind == TypeMismatch
	}
	return false
}

// NewDecodeError creates a DecodeError.
func NewDecodeError(list ListKey, kind DecodeErrorKind, cause error) *DecodeError {
	return &DecodeError{List: list, Kind: kind, Cause: cause}
}

// IntegrityError carries both sides of a failed integrity check.
type IntegrityError struct {
	List     ListKey
	Expected IntegritySpec
	Computed ComputedSpec
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s list integrity mismatch: expected entries=%d rate=%g hash=%s, got entries=%d rate=%g hash=%s",
		e.List,
		e.Expected.TotalEntries, e.Expected.ErrorRate, e.Expected.ContentHash,
		e.Computed.TotalEntries, e.Computed.ErrorRate, e.Computed.ContentHash)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityMismatch }

// PersistenceError wraps a failed on-disk replace.
type PersistenceError struct {
	Path  string
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Path, e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsRetryable reports whether re-fetching may fix err. Only corrupted
// transfers (invalid format) are worth another download.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}
