package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeInvalidStreamID indicates an empty stream id. Not retryable.
	CodeInvalidStreamID ErrorCode = "INVALID_STREAM_ID"

	// CodeInvalidAppend indicates a malformed append request. Not retryable.
	CodeInvalidAppend ErrorCode = "INVALID_APPEND"

	// CodeInvalidRead indicates a malformed read request, such as a
	// non-positive page size. Not retryable.
	CodeInvalidRead ErrorCode = "INVALID_READ"

	// CodeWrongExpectedVersion indicates an optimistic-concurrency conflict.
	// Re-read the stream and retry, or give up.
	CodeWrongExpectedVersion ErrorCode = "WRONG_EXPECTED_VERSION"

	// CodeSchemaIncompatible indicates the durable layout is not CurrentSchemaVersion.
	CodeSchemaIncompatible ErrorCode = "SCHEMA_INCOMPATIBLE"

	// CodeSchemaCreationFailed indicates CreateSchema hit a backend error.
	CodeSchemaCreationFailed ErrorCode = "SCHEMA_CREATION_FAILED"

	// CodeSchemaDropFailed indicates DropAll hit a backend error.
	CodeSchemaDropFailed ErrorCode = "SCHEMA_DROP_FAILED"

	// CodeStoreDisposed indicates a call after Close.
	CodeStoreDisposed ErrorCode = "STORE_DISPOSED"

	// CodeNotifierUnavailable indicates no notifier factory was configured.
	CodeNotifierUnavailable ErrorCode = "NOTIFIER_UNAVAILABLE"

	// CodeBackendUnavailable indicates a transport or timeout failure.
	// Safe to retry with backoff; the store never retries by itself.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
)

// Error is the error type returned by Store operations.
//
// Match categories with errors.Is against the Err* sentinels, or with the
// IsXxx helpers. Backend failures keep the backend's own code in BackendCode.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the store operation that failed.
	Op string

	// Message is a human-readable description.
	Message string

	// BackendCode is the driver error code, when one was available.
	BackendCode string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.BackendCode != "" {
		msg += fmt.Sprintf(" (backend code %s)", e.BackendCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidStreamID      = &Error{Code: CodeInvalidStreamID}
	ErrInvalidAppend        = &Error{Code: CodeInvalidAppend}
	ErrInvalidRead          = &Error{Code: CodeInvalidRead}
	ErrWrongExpectedVersion = &Error{Code: CodeWrongExpectedVersion}
	ErrSchemaIncompatible   = &Error{Code: CodeSchemaIncompatible}
	ErrSchemaCreationFailed = &Error{Code: CodeSchemaCreationFailed}
	ErrSchemaDropFailed     = &Error{Code: CodeSchemaDropFailed}
	ErrStoreDisposed        = &Error{Code: CodeStoreDisposed}
	ErrNotifierUnavailable  = &Error{Code: CodeNotifierUnavailable}
	ErrBackendUnavailable   = &Error{Code: CodeBackendUnavailable}
)

// WrongExpectedVersionError reports a failed append precondition together
// with the state observed inside the append transaction, so callers can
// decide on a retry without another round-trip.
type WrongExpectedVersionError struct {
	StreamID string
	Expected ExpectedVersion
	Current  StreamVersion
}

func (e *WrongExpectedVersionError) Error() string {
	return fmt.Sprintf("%s: append to stream %q failed: expected version %s, current version %s",
		CodeWrongExpectedVersion, e.StreamID, e.Expected, e.Current)
}

// Is matches ErrWrongExpectedVersion.
func (e *WrongExpectedVersionError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeWrongExpectedVersion
}

// IsWrongExpectedVersion returns true if err is an append conflict.
// Uses errors.As to handle wrapped errors.
func IsWrongExpectedVersion(err error) bool {
	var we *WrongExpectedVersionError
	return errors.As(err, &we)
}

// IsBackendUnavailable returns true if err is a transient backend failure.
func IsBackendUnavailable(err error) bool {
	return hasCode(err, CodeBackendUnavailable)
}

// IsStoreDisposed returns true if err came from a call after Close.
func IsStoreDisposed(err error) bool {
	return hasCode(err, CodeStoreDisposed)
}

// IsSchemaIncompatible returns true if the durable layout needs migrating.
func IsSchemaIncompatible(err error) bool {
	return hasCode(err, CodeSchemaIncompatible)
}

// CodeOf returns the ErrorCode carried by err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	if IsWrongExpectedVersion(err) {
		return CodeWrongExpectedVersion
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// backendError wraps a driver error as BackendUnavailable, keeping the
// driver's code. Caller cancellation is returned as is so callers can match
// context.Canceled directly.
func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if IsWrongExpectedVersion(err) {
		return err
	}
	return &Error{
		Code:        CodeBackendUnavailable,
		Op:          op,
		BackendCode: driverCode(err),
		Err:         err,
	}
}

// driverCode extracts a diagnostic code from sqlite3 and pq errors.
func driverCode(err error) string {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return fmt.Sprintf("sqlite:%d/%d", int(liteErr.Code), int(liteErr.ExtendedCode))
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return "pq:" + string(pqErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return ""
}

// isUniqueViolation reports whether err is a unique-constraint failure.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
