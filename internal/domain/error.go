package domain

import (
	"errors"
	"fmt"
)

var (
	// Caller-side errors, raised before any remote call.
	ErrInputValidation = errors.New("invalid input")

	// Provider-side categories. A *ProviderError unwraps to exactly one of these.
	ErrProviderValidation = errors.New("provider rejected request")
	ErrProviderAuth       = errors.New("provider authentication failed")
	ErrProviderTransient  = errors.New("provider temporarily unavailable")

	ErrNotFound      = errors.New("entity not found")
	ErrState         = errors.New("invalid state")
	ErrAlreadyExists = errors.New("entity already exists")

	// Persistence errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
)

// Invalid returns an input validation error with a caller-safe message.
func Invalid(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// InputError is a validation failure detected locally.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }
func (e *InputError) Unwrap() error { return ErrInputValidation }

// Stateful returns an ErrState error with the given message.
func Stateful(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound error with the given message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ProviderError is a failure reported by (or on the way to) the payment provider.
// Message is the provider's human-readable message, kept verbatim.
type ProviderError struct {
	Kind      error // one of ErrProviderValidation, ErrProviderAuth, ErrProviderTransient, ErrNotFound
	Message   string
	Code      string
	RequestID string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StepError identifies which saga step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the saga step carried by err, or "".
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
