// Package identity derives deterministic, collision-resistant operation-scoped
// tokens used to address key material on the external engine. A token is not
// a secret; it is a routing key, and the same (subject, algorithm, operation)
// triple always yields the same token across processes and time.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// TokenLength is the length in hex characters of a derived token.
const TokenLength = 32

// domainSuffix separates identity derivation from any other use of the same
// digest over similar inputs.
const domainSuffix = "minkalla:crypto-identity:v1"

const separator = "|"

// ErrEmptyInput is returned when any derivation input normalizes to empty.
var ErrEmptyInput = errors.New("identity inputs must be non-empty")

// Derive computes the CryptoIdentity token for (subjectID, algorithm,
// operation). Inputs are case-folded and trimmed before hashing, so
// equivalent spellings produce identical tokens.
func Derive(subjectID, algorithm, operation string) (string, error) {
	s := normalize(subjectID)
	a := normalize(algorithm)
	o := normalize(operation)

	if s == "" || a == "" || o == "" {
		return "", ErrEmptyInput
	}

	preimage := strings.Join([]string{s, a, o, domainSuffix}, separator)
	sum := sha256.Sum256([]byte(preimage))

	return hex.EncodeToString(sum[:])[:TokenLength], nil
}

// Valid reports whether s has the shape of a derived token: TokenLength
// lowercase hex characters.
func Valid(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
