package hybrid

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrUnknownAlgorithm is returned when an envelope carries an algorithm
	// tag this build does not recognize.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrDecryptMismatch is returned when decryption fails because the
	// envelope's algorithm tag did not match the available key material.
	// Decrypt failures are fatal and never silently retried with a different
	// algorithm.
	ErrDecryptMismatch = errors.New("decrypt mismatch")

	// ErrMissingIdentity is returned when a signature envelope lacks the
	// CryptoIdentity recorded at signing time. Verification never recomputes
	// the identity from possibly-different inputs.
	ErrMissingIdentity = errors.New("signature envelope missing crypto identity")

	// ErrMissingPublicKey is returned when a classical signature envelope
	// lacks the public key recorded at signing time.
	ErrMissingPublicKey = errors.New("signature envelope missing public key")
)

// DecryptError reports a fatal decrypt failure with the stage that failed.
type DecryptError struct {
	Stage string // "decode", "engine", "kdf", "aead", "classical"
	Err   error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecryptMismatch
}
