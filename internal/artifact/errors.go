package artifact

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is; the typed errors below carry
// context and match their sentinel.
var (
	// ErrImmutabilityViolation is returned when a write targets a run id
	// that is already persisted. Never retried: a retry would either no-op
	// or mask a genuine id collision.
	ErrImmutabilityViolation = errors.New("immutability violation")

	// ErrValidation is returned for malformed or incomplete artifacts.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by operations that target an unknown run id
	// and must report an outcome.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord marks a stored file that fails to parse or validate.
	ErrCorruptRecord = errors.New("corrupt record")
)

// ImmutabilityError reports a write to an existing run id.
type ImmutabilityError struct {
	RunID string
	Path  string
}

func (e *ImmutabilityError) Error() string {
	return fmt.Sprintf("artifact %s already exists at %s: artifacts are write-once", e.RunID, e.Path)
}

// Is matches ErrImmutabilityViolation.
func (e *ImmutabilityError) Is(target error) bool {
	return target == ErrImmutabilityViolation
}

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an unknown run id.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found", e.RunID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CorruptRecordError reports a stored file that cannot be decoded or fails
// validation.
type CorruptRecordError struct {
	Path string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.Path, e.Err)
}

// Is matches ErrCorruptRecord.
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// IsImmutabilityViolation reports whether err is (or wraps) an
// immutability violation.
func IsImmutabilityViolation(err error) bool {
	return errors.Is(err, ErrImmutabilityViolation)
}

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err is (or wraps) a not-found outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
