package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrNotFound     ErrorType = "NOT_FOUND"
	ErrRateLimit    ErrorType = "RATE_LIMIT"
	ErrInvalidInput ErrorType = "INVALID_INPUT"
	ErrInternal     ErrorType = "INTERNAL"
	ErrUnauthorized ErrorType = "UNAUTHORIZED"
)

// AppError represents an application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func hasType(err error, t ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasType(err, ErrNotFound)
}

// IsRateLimit checks if the error is a rate limit error
func IsRateLimit(err error) bool {
	return hasType(err, ErrRateLimit)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return hasType(err, ErrInvalidInput)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return hasType(err, ErrUnauthorized)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return New(ErrNotFound, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return New(ErrInvalidInput, message, err)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, err error) *AppError {
	return New(ErrUnauthorized, message, err)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(message string, err error) *AppError {
	return New(ErrRateLimit, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// SyncInProgressError is returned when a sync run is rejected because another
// one holds the single-flight lock.
type SyncInProgressError struct {
	StartedAt time.Time
}

func (e *SyncInProgressError) Error() string {
	if e.StartedAt.IsZero() {
		return "sync already in progress"
	}
	return fmt.Sprintf("sync already in progress (started at %s)", e.StartedAt.Format(time.RFC3339))
}

// NewSyncInProgressError creates a new SyncInProgressError
func NewSyncInProgressError(startedAt time.Time) error {
	return &SyncInProgressError{StartedAt: startedAt}
}

// IsSyncInProgress reports whether err is a SyncInProgressError
func IsSyncInProgress(err error) bool {
	var target *SyncInProgressError
	return stderrors.As(err, &target)
}

// FetchErrorKind tells the caller whether a failed fetch may succeed when retried.
type FetchErrorKind int

const (
	KindRetriable FetchErrorKind = iota
	KindFatal
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("FetchErrorKind(%d)", int(k))
	}
}

// FetchError wraps an upstream failure together with its retry classification.
type FetchError struct {
	Kind FetchErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError
func NewFetchError(kind FetchErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// IsRetriable reports whether err carries a retriable fetch classification.
// Errors without a classification are treated as fatal.
func IsRetriable(err error) bool {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe.Kind == KindRetriable
	}
	return false
}

// As is errors.As from the standard library, re-exported so callers need a
// single errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
