package stockpile

import (
	"errors"
	"fmt"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("stockpile: not found")
	ErrAlreadyExists = errors.New("stockpile: already exists")
	ErrInvalidInput  = errors.New("stockpile: invalid input")

	// Store errors
	ErrUnsupported   = storage.ErrUnsupported
	ErrStoreInvalid  = storage.ErrInvalidStore
	ErrNotRegistered = errors.New("stockpile: store is not registered with the engine")
	ErrStoreClosed   = errors.New("stockpile: state repository is closed")

	// Persistence errors
	ErrSaveBufferFull  = errors.New("stockpile: save buffer full")
	ErrMigrationFailed = errors.New("stockpile: migration failed")
	ErrKindMismatch    = errors.New("stockpile: snapshot kind does not match store")

	// Engine errors
	ErrEngineStopped = errors.New("stockpile: engine stopped")
	ErrNoRepository  = errors.New("stockpile: no state repository configured")
	ErrInTransaction = errors.New("stockpile: operation not allowed inside an open transaction")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("stockpile: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap makes validation failures match ErrInvalidInput.
func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "stockpile: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("stockpile: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotRegistered)
}

// IsProgrammingError returns true if err is a value recovered from a
// precondition or transaction protocol panic.
func IsProgrammingError(err error) bool {
	var pe *txn.ProtocolError
	return errors.As(err, &pe) ||
		errors.Is(err, types.ErrInvalidArgument) ||
		errors.Is(err, article.ErrInvalidArticle)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSaveBufferFull)
}
