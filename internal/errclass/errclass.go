// Package errclass assigns a category and severity to errors surfaced by
// engine calls. Classification drives logging verbosity, whether a call is
// retried, and whether the failure counts toward circuit-breaker thresholds:
// validation errors are the caller's fault and must not open a circuit that
// reflects engine health.
package errclass

import (
	"context"
	"errors"
	"strings"
)

// Category groups errors by origin.
type Category string

// Categories, from most to least alarming.
const (
	CategoryMemory     Category = "MEMORY"
	CategoryCrypto     Category = "CRYPTO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategorySystem     Category = "SYSTEM"
)

// Severity ranks how urgently an error needs operator attention.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Classification is the result of inspecting one error.
type Classification struct {
	// Code is a short machine-readable identifier for the matched pattern.
	Code string
	// Category groups the error by origin.
	Category Category
	// Severity ranks operator urgency.
	Severity Severity
	// Retryable reports whether the bridge may retry the call.
	Retryable bool
	// CountsTowardBreaker reports whether the failure feeds the circuit's
	// failure count.
	CountsTowardBreaker bool
}

// pattern maps an error-text signature to its classification. Signatures are
// matched in order against the lowercased error text; first match wins.
// The signatures mirror the engine's native error strings.
type pattern struct {
	substrings []string
	class      Classification
}

var patterns = []pattern{
	{
		substrings: []string{"memory allocation failed", "segmentation fault", "out of memory", "heap corruption", "null pointer"},
		class:      Classification{Code: "engine_memory", Category: CategoryMemory, Severity: SeverityCritical, Retryable: false, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"security policy violation", "key revoked"},
		class:      Classification{Code: "engine_policy", Category: CategoryCrypto, Severity: SeverityCritical, Retryable: false, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"decapsulation failed", "encapsulation failed", "signature verification failed", "key expired"},
		class:      Classification{Code: "engine_crypto", Category: CategoryCrypto, Severity: SeverityHigh, Retryable: false, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"key generation failed", "key not found", "unsupported algorithm", "ffi operation failed"},
		class:      Classification{Code: "engine_keys", Category: CategoryCrypto, Severity: SeverityMedium, Retryable: false, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"timed out", "timeout", "deadline exceeded", "connection refused", "broken pipe"},
		class:      Classification{Code: "engine_timeout", Category: CategoryNetwork, Severity: SeverityMedium, Retryable: true, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"exit status", "executable file not found", "no such file", "signal: killed", "process not available", "not available"},
		class:      Classification{Code: "engine_unavailable", Category: CategoryNetwork, Severity: SeverityHigh, Retryable: true, CountsTowardBreaker: true},
	},
	{
		substrings: []string{"invalid operation", "invalid subject", "parameter required", "invalid json", "malformed", "invalid key format", "serialization error", "deserialization error"},
		class:      Classification{Code: "invalid_input", Category: CategoryValidation, Severity: SeverityLow, Retryable: false, CountsTowardBreaker: false},
	},
	{
		substrings: []string{"rate limit exceeded", "concurrent operation conflict"},
		class:      Classification{Code: "engine_contention", Category: CategorySystem, Severity: SeverityMedium, Retryable: true, CountsTowardBreaker: true},
	},
}

// Classify inspects err and returns its classification. Context cancellation
// and deadline errors classify as NETWORK timeouts; anything unmatched is a
// MEDIUM SYSTEM error that counts toward the breaker.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: "none", Category: CategorySystem, Severity: SeverityLow}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classification{Code: "engine_timeout", Category: CategoryNetwork, Severity: SeverityMedium, Retryable: true, CountsTowardBreaker: true}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, sub := range p.substrings {
			if strings.Contains(msg, sub) {
				return p.class
			}
		}
	}

	return Classification{Code: "engine_unknown", Category: CategorySystem, Severity: SeverityMedium, Retryable: false, CountsTowardBreaker: true}
}
