package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/migrate"
	"github.com/roach88/runledger/internal/signedurl"
)

// Exit codes for CLI commands.
const (
	ExitSuccess    = 0 // Successful execution
	ExitFailure    = 1 // Unclassified failure, failed verification, diff over threshold
	ExitValidation = 2 // Malformed input, bad flags, schema violations
	ExitConflict   = 3 // Run id already stored
	ExitNotFound   = 4 // Unknown run id, blob, legacy store or backup
)

// Error codes reported in JSON error responses.
const (
	ErrCodeGeneric    = "E001"
	ErrCodeValidation = "E002"
	ErrCodeConflict   = "E003"
	ErrCodeNotFound   = "E004"
	ErrCodeCorrupt    = "E005"
	ErrCodeConfig     = "E006"
	ErrCodeFailed     = "E007"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	ErrCode string // Error code for JSON output; derived from Code when empty
	Message string // Error message
	Details any    // Extra context rendered with the error
	Err     error  // Underlying error (optional)

	// Reported marks errors whose outcome the command already wrote to
	// stdout. Execute then only echoes the message in text mode.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// classify wraps err with the exit code its kind maps to. Errors that are
// already ExitErrors pass through unchanged.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	e := &ExitError{Code: ExitFailure, Message: message, Err: err}
	switch {
	case artifact.IsImmutabilityViolation(err):
		e.Code, e.ErrCode = ExitConflict, ErrCodeConflict
	case artifact.IsNotFound(err),
		errors.Is(err, migrate.ErrNoLegacySource),
		errors.Is(err, migrate.ErrNoBackup):
		e.Code, e.ErrCode = ExitNotFound, ErrCodeNotFound
	case artifact.IsValidation(err),
		errors.Is(err, signedurl.ErrMalformed),
		errors.Is(err, signedurl.ErrKeyTooShort):
		e.Code, e.ErrCode = ExitValidation, ErrCodeValidation
	case errors.Is(err, artifact.ErrCorruptRecord):
		e.ErrCode = ErrCodeCorrupt
	case errors.Is(err, context.Canceled):
		e.Message = message + " (interrupted)"
	}
	return e
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// errorCode returns the JSON error code for err.
func errorCode(err error) string {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return ErrCodeGeneric
	}
	if exitErr.ErrCode != "" {
		return exitErr.ErrCode
	}
	switch exitErr.Code {
	case ExitValidation:
		return ErrCodeValidation
	case ExitConflict:
		return ErrCodeConflict
	case ExitNotFound:
		return ErrCodeNotFound
	}
	return ErrCodeGeneric
}

// TextRenderer is implemented by results with a human-readable form.
type TextRenderer interface {
	WriteText(w io.Writer) error
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// Text output uses data's WriteText when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(TextRenderer); ok {
		return r.WriteText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format. JSON errors go to
// Writer so scripted callers always read one document; text errors go to
// ErrWriter.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
