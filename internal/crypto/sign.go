package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// SigningKeypair represents an ML-DSA-65 keypair for digital signatures.
type SigningKeypair struct {
	// PublicKey is the raw ML-DSA-65 public key bytes.
	PublicKey []byte
	// PrivateKey is the raw ML-DSA-65 private key bytes.
	PrivateKey []byte
}

// GenerateSigningKeypair creates a new ML-DSA-65 keypair.
func GenerateSigningKeypair() (*SigningKeypair, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &SigningKeypair{
		PublicKey:  pubBytes,
		PrivateKey: privBytes,
	}, nil
}

// Sign produces an ML-DSA-65 signature over message.
func (k *SigningKeypair) Sign(message []byte) ([]byte, error) {
	priv := &mldsa65.PrivateKey{}
	if err := priv.UnmarshalBinary(k.PrivateKey); err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	sig := make([]byte, MLDSASignatureSize)
	if err := mldsa65.SignTo(priv, message, nil, false, sig); err != nil {
		return nil, err
	}

	return sig, nil
}

// Verify verifies an ML-DSA-65 signature.
func Verify(publicKey, message, signature []byte) error {
	pk := &mldsa65.PublicKey{}
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	if !mldsa65.Verify(pk, message, nil, signature) {
		return ErrSignatureVerificationFailed
	}

	return nil
}
