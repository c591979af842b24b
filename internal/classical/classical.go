// Package classical implements the in-process fallback algorithm family:
// RSA-OAEP hybrid encryption, RSA-PSS signatures, and key generation. All
// operations are synchronous and side-effect-free; the package holds no
// state beyond the key material callers hand it.
package classical

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/minkalla/hybridcrypto/internal/crypto"
)

// KeyBits is the RSA modulus size for generated keypairs.
const KeyBits = 2048

// pssOptions fixes the PSS salt length to the digest size so signatures have
// a stable, interoperable shape.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       stdcrypto.SHA256,
}

// oaepLabel domain-separates OAEP key wrapping from any other RSA use.
var oaepLabel = []byte("minkalla:hybridcrypto:wrap:v1")

// ErrNoPrivateKey is returned when an operation requires a private key and
// none was supplied.
var ErrNoPrivateKey = errors.New("no private key supplied")

// Provider performs the classical-family operations.
type Provider struct{}

// NewProvider creates a Provider.
func NewProvider() *Provider {
	return &Provider{}
}

// GenerateKeyPair creates a fresh RSA keypair.
func (p *Provider) GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext for the given public key. A fresh AES-256 data key
// encrypts the payload with AES-GCM and is itself wrapped with
// RSA-OAEP-SHA256, so plaintexts of any length round-trip.
//
// Output layout: wrappedKey (modulus size) || nonce || ciphertext || tag.
func (p *Provider) Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	dataKey := make([]byte, crypto.AESKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	sealed, err := crypto.Seal(dataKey, plaintext, nil)
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, dataKey, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}

	return append(wrapped, sealed...), nil
}

// Decrypt reverses Encrypt using the matching private key.
func (p *Provider) Decrypt(priv *rsa.PrivateKey, blob []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrNoPrivateKey
	}

	wrappedLen := priv.Size()
	if len(blob) < wrappedLen+crypto.AESNonceSize+crypto.AESTagSize {
		return nil, crypto.ErrCiphertextTooShort
	}

	dataKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, blob[:wrappedLen], oaepLabel)
	if err != nil {
		return nil, crypto.ErrDecryptionFailed
	}

	return crypto.Open(dataKey, blob[wrappedLen:], nil)
}

// Sign produces an RSA-PSS-SHA256 signature over message.
func (p *Provider) Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrNoPrivateKey
	}

	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// SignEphemeral signs message with a freshly generated keypair and returns
// the signature together with the public key, so callers without
// pre-provisioned keys still receive a verifiable result. The private half is
// discarded: repeated ephemeral signatures are independently verifiable but
// not against each other.
func (p *Provider) SignEphemeral(message []byte) (sig []byte, pub *rsa.PublicKey, err error) {
	key, err := p.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	sig, err = p.Sign(key, message)
	if err != nil {
		return nil, nil, err
	}
	return sig, &key.PublicKey, nil
}

// Verify checks an RSA-PSS-SHA256 signature.
func (p *Provider) Verify(pub *rsa.PublicKey, message, sig []byte) error {
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], sig, pssOptions); err != nil {
		return crypto.ErrSignatureVerificationFailed
	}
	return nil
}

// EncodePublicKey serializes a public key as PKIX DER.
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// DecodePublicKey parses a PKIX DER public key.
func DecodePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}

// EncodePrivateKey serializes a private key as PKCS#8 DER.
func EncodePrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

// DecodePrivateKey parses a PKCS#8 DER private key.
func DecodePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return priv, nil
}
