package metadata

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is returned by stores used after Close.
var ErrStoreClosed = errors.New("metadata store is closed")

// StoreError represents a domain error returned by a metadata store.
//
// Stores never leak driver errors directly: they are wrapped with a code so
// the storage engine can map them onto wire status texts.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the record name or path the error concerns (if applicable)
	Path string

	// Err is the underlying driver error, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested record doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a record with the same (name, parent) exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates a malformed name or path
	ErrInvalidArgument

	// ErrConstraint indicates a referential-integrity violation, such as a
	// parent id that does not exist
	ErrConstraint

	// ErrIOError indicates the backend failed
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrConstraint:
		return "constraint violation"
	default:
		return "i/o error"
	}
}

// NewError builds a StoreError.
func NewError(code ErrorCode, path string, err error) *StoreError {
	return &StoreError{Code: code, Message: code.String(), Path: path, Err: err}
}

// NotFound builds an ErrNotFound error for the given name.
func NotFound(path string) *StoreError {
	return NewError(ErrNotFound, path, nil)
}

// IOError wraps a backend failure.
func IOError(op string, err error) *StoreError {
	return &StoreError{Code: ErrIOError, Message: fmt.Sprintf("%s failed", op), Err: err}
}

// CodeOf returns the code of a StoreError anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsAlreadyExists reports whether err is an ErrAlreadyExists StoreError.
func IsAlreadyExists(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrAlreadyExists
}
