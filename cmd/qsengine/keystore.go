package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/minkalla/hybridcrypto/internal/crypto"
)

// keystore persists per-subject keypairs on disk so key material survives
// across helper invocations. Files are named by the subject token, which is
// validated to plain hex before it reaches a path.
type keystore struct {
	dir string
}

func newKeystore(dir string) (*keystore, error) {
	for _, sub := range []string{"kem", "dsa"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &keystore{dir: dir}, nil
}

// kemKeypair loads the subject's ML-KEM-768 keypair, generating and
// persisting one on first use. The public key is recovered from the stored
// secret key.
func (k *keystore) kemKeypair(userID string) (*crypto.KEMKeypair, error) {
	path := filepath.Join(k.dir, "kem", userID+".key")

	if secret, err := os.ReadFile(path); err == nil {
		return crypto.KEMKeypairFromSecretKey(secret)
	}

	keypair, err := crypto.GenerateKEMKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, keypair.SecretKey, 0o600); err != nil {
		return nil, fmt.Errorf("persist key: %w", err)
	}
	return keypair, nil
}

// signingKeypair loads the subject's ML-DSA-65 keypair, generating and
// persisting one on first use. The file holds the private key followed by
// the public key.
func (k *keystore) signingKeypair(userID string) (*crypto.SigningKeypair, error) {
	if keypair, err := k.loadSigningKeypair(userID); err == nil {
		return keypair, nil
	}

	keypair, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, err
	}
	blob := append(append([]byte{}, keypair.PrivateKey...), keypair.PublicKey...)
	path := filepath.Join(k.dir, "dsa", userID+".key")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("persist key: %w", err)
	}
	return keypair, nil
}

// loadSigningKeypair loads an existing ML-DSA-65 keypair without generating
// one.
func (k *keystore) loadSigningKeypair(userID string) (*crypto.SigningKeypair, error) {
	path := filepath.Join(k.dir, "dsa", userID+".key")
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(blob) != crypto.MLDSAPrivateKeySize+crypto.MLDSAPublicKeySize {
		return nil, fmt.Errorf("corrupt key file %s", path)
	}
	return &crypto.SigningKeypair{
		PrivateKey: blob[:crypto.MLDSAPrivateKeySize],
		PublicKey:  blob[crypto.MLDSAPrivateKeySize:],
	}, nil
}
