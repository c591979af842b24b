package engine

import (
	"errors"
	"fmt"

	"github.com/minkalla/hybridcrypto/internal/errclass"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrInvalidOperation is returned when an operation is not in the
	// allow-list or contains forbidden characters.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidSubject is returned when a subject identifier does not match
	// the expected token shape.
	ErrInvalidSubject = errors.New("invalid subject identifier")

	// ErrEngineUnavailable is returned when the engine process cannot be
	// reached or exits abnormally.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrEngineTimeout is returned when an engine call exceeds its deadline.
	ErrEngineTimeout = errors.New("engine timeout")

	// ErrMalformedResponse is returned when the engine's reply cannot be
	// parsed. A malformed response is a failure, never success-with-nulls.
	ErrMalformedResponse = errors.New("malformed engine response")
)

// InvalidOperationError reports a rejected operation name.
type InvalidOperationError struct {
	Operation string
	Reason    string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %q: %s", e.Operation, e.Reason)
}

// Is implements errors.Is for sentinel error matching.
func (e *InvalidOperationError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// InvalidSubjectError reports a rejected subject identifier. The raw value is
// deliberately not echoed; only its length is kept.
type InvalidSubjectError struct {
	Length int
}

func (e *InvalidSubjectError) Error() string {
	return fmt.Sprintf("invalid subject identifier (length %d): want %d lowercase hex characters", e.Length, subjectTokenLength)
}

// Is implements errors.Is for sentinel error matching.
func (e *InvalidSubjectError) Is(target error) bool {
	return target == ErrInvalidSubject
}

// CallError wraps a failed engine call with its classification.
type CallError struct {
	Operation string
	Message   string
	Class     errclass.Classification
	Err       error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine call %s failed (%s/%s): %v", e.Operation, e.Class.Category, e.Class.Severity, e.Err)
	}
	return fmt.Sprintf("engine call %s failed (%s/%s): %s", e.Operation, e.Class.Category, e.Class.Severity, e.Message)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching based on the
// classification code.
func (e *CallError) Is(target error) bool {
	switch target {
	case ErrEngineTimeout:
		return e.Class.Code == "engine_timeout"
	case ErrEngineUnavailable:
		return e.Class.Code == "engine_unavailable" || e.Class.Code == "engine_memory"
	}
	return false
}

// newCallError classifies err (or message, when err is nil) and wraps it.
func newCallError(operation, message string, err error) *CallError {
	classified := err
	if classified == nil {
		classified = errors.New(message)
	}
	return &CallError{
		Operation: operation,
		Message:   message,
		Class:     errclass.Classify(classified),
		Err:       err,
	}
}
