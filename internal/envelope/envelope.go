// Package envelope defines the self-describing result wrappers produced by
// the hybrid orchestrator. An envelope carries the ciphertext or signature
// plus the algorithm tag needed to process it later; no external state is
// required to handle it except the corresponding key material.
package envelope

import "time"

// Family identifies the algorithm family that served an operation.
type Family string

const (
	// FamilyPrimary is the quantum-safe suite executed via the external engine.
	FamilyPrimary Family = "pqc"
	// FamilyClassical is the in-process asymmetric fallback suite.
	FamilyClassical Family = "classical"
)

// Versioned algorithm identifiers. The tag on an envelope is sufficient to
// select the decrypt/verify path; callers never supply hints.
const (
	AlgMLKEM768AESGCM = "ML-KEM-768+AES-256-GCM:v1"
	AlgMLDSA65        = "ML-DSA-65:v1"
	AlgRSAOAEPAESGCM  = "RSA-OAEP-SHA256+AES-256-GCM:v1"
	AlgRSAPSS         = "RSA-PSS-SHA256:v1"
)

// FamilyOf reports the algorithm family for a versioned algorithm tag.
// Unknown tags return an empty Family.
func FamilyOf(algorithm string) Family {
	switch algorithm {
	case AlgMLKEM768AESGCM, AlgMLDSA65:
		return FamilyPrimary
	case AlgRSAOAEPAESGCM, AlgRSAPSS:
		return FamilyClassical
	}
	return ""
}

// Metadata carries non-secret bookkeeping attached to an envelope.
type Metadata struct {
	// Timestamp is when the envelope was created.
	Timestamp time.Time `json:"timestamp"`
	// KeyRef names the key material used, e.g. a key id or a CryptoIdentity.
	KeyRef string `json:"keyRef,omitempty"`
	// CryptoIdentity is the operation-scoped identity token derived at
	// operation time. For signatures it is persisted so verification can
	// reproduce the exact identity instead of recomputing it.
	CryptoIdentity string `json:"cryptoIdentity,omitempty"`
	// FallbackReason records why the primary path could not be used.
	FallbackReason string `json:"fallbackReason,omitempty"`
	// PublicKey is the base64url-encoded public half of an ephemeral keypair,
	// set only when the classical provider had to generate one on the fly.
	PublicKey string `json:"publicKey,omitempty"`
}

// Encryption is the envelope returned by every encrypt call. It is immutable
// once returned and consumed exactly once by the matching decrypt call.
type Encryption struct {
	// Algorithm is the versioned algorithm tag.
	Algorithm string `json:"algorithm"`
	// Ciphertext is the opaque base64url-encoded payload.
	Ciphertext string `json:"ciphertext"`
	// FallbackUsed is true when the classical family served the call.
	FallbackUsed bool `json:"fallbackUsed"`
	// IsDegraded is true whenever the primary family could not be used.
	IsDegraded bool `json:"isDegraded"`
	// Metadata carries timestamp, key reference and fallback reason.
	Metadata Metadata `json:"metadata"`
}

// Signature is the envelope returned by every sign call.
type Signature struct {
	// Algorithm is the versioned algorithm tag.
	Algorithm string `json:"algorithm"`
	// Signature is the opaque signature token: a signed JSON token on the
	// primary path, a base64url-encoded raw signature on the classical path.
	Signature string `json:"signature"`
	// FallbackUsed is true when the classical family served the call.
	FallbackUsed bool `json:"fallbackUsed"`
	// IsDegraded is true whenever the primary family could not be used.
	IsDegraded bool `json:"isDegraded"`
	// Metadata carries timestamp, key reference and the CryptoIdentity used
	// at signing time.
	Metadata Metadata `json:"metadata"`
}

// KeyPair is the result of a key-generation call, tagged with the algorithm
// family that produced it. Primary-family private keys never leave the
// engine; they are addressed through the CryptoIdentity token instead, so
// PrivateKey is populated only on the classical path.
type KeyPair struct {
	// Algorithm is the versioned algorithm tag of the generated pair.
	Algorithm string `json:"algorithm"`
	// PublicKey is the base64url-encoded public key, or the engine's key
	// fingerprint on the primary path.
	PublicKey string `json:"publicKey"`
	// PrivateKey is the base64url-encoded private key. Empty on the primary
	// path. Never logged.
	PrivateKey string `json:"privateKey,omitempty"`
	// CryptoIdentity addresses engine-held key material for this pair.
	CryptoIdentity string `json:"cryptoIdentity,omitempty"`
	// FallbackUsed is true when the classical family served the call.
	FallbackUsed bool `json:"fallbackUsed"`
}
