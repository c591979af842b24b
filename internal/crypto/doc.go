// Package crypto provides the shared cryptographic primitives for the hybrid
// resilience core. It implements post-quantum key encapsulation and digital
// signatures together with the symmetric building blocks used on both the
// primary and classical paths.
//
// # Algorithm Suite
//
//   - ML-KEM-768 (NIST FIPS 203): post-quantum key encapsulation mechanism
//     used to establish per-operation session secrets.
//
//   - ML-DSA-65 (NIST FIPS 204): post-quantum digital signature algorithm
//     used for token signing on the primary path.
//
//   - AES-256-GCM: authenticated encryption for payload data once a session
//     key has been established.
//
//   - HKDF-SHA-512 (RFC 5869): key derivation from KEM shared secrets with
//     domain separation.
//
// AES-GCM nonces MUST be unique per encryption under the same key; [Seal]
// always draws a fresh random nonce and prepends it to the ciphertext.
//
// Keep secret keys secure. They must never be logged, carried in telemetry
// events, or embedded in envelopes.
package crypto
