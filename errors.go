package hybridcrypto

import (
	"errors"

	"github.com/minkalla/hybridcrypto/internal/breaker"
	"github.com/minkalla/hybridcrypto/internal/crypto"
	"github.com/minkalla/hybridcrypto/internal/engine"
	"github.com/minkalla/hybridcrypto/internal/errclass"
	"github.com/minkalla/hybridcrypto/internal/hybrid"
	"github.com/minkalla/hybridcrypto/internal/identity"
	"github.com/minkalla/hybridcrypto/internal/store"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrServiceClosed is returned when operations are attempted on a closed
	// service.
	ErrServiceClosed = errors.New("service has been closed")

	// ErrCircuitOpen is returned when a circuit rejects a request without
	// attempting the engine.
	ErrCircuitOpen = breaker.ErrCircuitOpen

	// ErrEngineUnavailable is returned when the engine process cannot be
	// reached or exits abnormally.
	ErrEngineUnavailable = engine.ErrEngineUnavailable

	// ErrEngineTimeout is returned when an engine call exceeds its deadline.
	ErrEngineTimeout = engine.ErrEngineTimeout

	// ErrInvalidOperation is returned when an engine operation is not in the
	// allow-list.
	ErrInvalidOperation = engine.ErrInvalidOperation

	// ErrInvalidSubject is returned when a subject token does not match the
	// expected shape.
	ErrInvalidSubject = engine.ErrInvalidSubject

	// ErrMalformedResponse is returned when the engine's reply cannot be
	// parsed.
	ErrMalformedResponse = engine.ErrMalformedResponse

	// ErrUnknownAlgorithm is returned when an envelope carries an
	// unrecognized algorithm tag.
	ErrUnknownAlgorithm = hybrid.ErrUnknownAlgorithm

	// ErrDecryptFailed is returned when decryption fails on the envelope's
	// tagged path. Decrypt failures are final; there is no cross-family
	// retry.
	ErrDecryptFailed = hybrid.ErrDecryptMismatch

	// ErrMissingIdentity is returned when a signature envelope lacks the
	// CryptoIdentity recorded at signing time.
	ErrMissingIdentity = hybrid.ErrMissingIdentity

	// ErrVerificationFailed is the underlying cause when a signature does
	// not verify. Verify reports that outcome as (false, nil); the sentinel
	// surfaces only from lower-level helpers.
	ErrVerificationFailed = crypto.ErrSignatureVerificationFailed

	// ErrMigrationPartial is returned by bulk runs when some records could
	// not be rewritten. The report carries the per-record errors.
	ErrMigrationPartial = errors.New("migration completed with failures")

	// ErrEmptyIdentityInput is returned when a CryptoIdentity derivation
	// input normalizes to empty.
	ErrEmptyIdentityInput = identity.ErrEmptyInput

	// ErrRecordNotFound is returned when no record exists for an id.
	ErrRecordNotFound = store.ErrNotFound
)

// EngineCallError wraps a failed engine call with its classification.
type EngineCallError = engine.CallError

// DecryptionError reports a fatal decrypt failure with the stage that failed.
type DecryptionError = hybrid.DecryptError

// ErrorClassification is the category, severity and retry semantics assigned
// to an engine failure.
type ErrorClassification = errclass.Classification

// ErrorCategory groups errors by origin.
type ErrorCategory = errclass.Category

// ErrorSeverity ranks how urgently an error needs operator attention.
type ErrorSeverity = errclass.Severity

// Error categories.
const (
	CategoryMemory     = errclass.CategoryMemory
	CategoryCrypto     = errclass.CategoryCrypto
	CategoryNetwork    = errclass.CategoryNetwork
	CategoryValidation = errclass.CategoryValidation
	CategorySystem     = errclass.CategorySystem
)

// Error severities.
const (
	SeverityLow      = errclass.SeverityLow
	SeverityMedium   = errclass.SeverityMedium
	SeverityHigh     = errclass.SeverityHigh
	SeverityCritical = errclass.SeverityCritical
)

// ClassifyError inspects err and returns its classification. Validation
// errors never count toward circuit-breaker thresholds.
func ClassifyError(err error) ErrorClassification {
	return errclass.Classify(err)
}
