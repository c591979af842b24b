package hybridcrypto

import (
	"github.com/minkalla/hybridcrypto/internal/envelope"
	"github.com/minkalla/hybridcrypto/internal/identity"
)

// AlgorithmFamily identifies the algorithm family that served an operation.
type AlgorithmFamily = envelope.Family

// Algorithm families.
const (
	FamilyPrimary   = envelope.FamilyPrimary
	FamilyClassical = envelope.FamilyClassical
)

// Versioned algorithm tags carried by envelopes.
const (
	AlgMLKEM768AESGCM = envelope.AlgMLKEM768AESGCM
	AlgMLDSA65        = envelope.AlgMLDSA65
	AlgRSAOAEPAESGCM  = envelope.AlgRSAOAEPAESGCM
	AlgRSAPSS         = envelope.AlgRSAPSS
)

// EncryptionEnvelope is the self-describing result of an encrypt call.
type EncryptionEnvelope = envelope.Encryption

// SignatureEnvelope is the self-describing result of a sign call.
type SignatureEnvelope = envelope.Signature

// KeyPair is the result of a key-generation call.
type KeyPair = envelope.KeyPair

// EnvelopeMetadata is the non-secret bookkeeping attached to an envelope.
type EnvelopeMetadata = envelope.Metadata

// AlgorithmFamilyOf reports the family of a versioned algorithm tag, or an
// empty family for unknown tags.
func AlgorithmFamilyOf(algorithm string) AlgorithmFamily {
	return envelope.FamilyOf(algorithm)
}

// DeriveCryptoIdentity computes the deterministic CryptoIdentity token for
// (subjectID, algorithm, operation). The token, never the raw subject id, is
// what crosses the engine boundary and appears in telemetry.
func DeriveCryptoIdentity(subjectID, algorithm, operation string) (string, error) {
	return identity.Derive(subjectID, algorithm, operation)
}

// ValidCryptoIdentity reports whether s has the shape of a derived
// CryptoIdentity token.
func ValidCryptoIdentity(s string) bool {
	return identity.Valid(s)
}
