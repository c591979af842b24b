package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA-512.
//
// Parameters:
//   - secret: the input key material (e.g., shared secret from KEM)
//   - salt: optional salt value; if empty, a zero-filled salt is used
//   - info: context/application-specific info for domain separation
//   - length: desired output key length in bytes
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	reader := hkdf.New(sha512.New, secret, salt, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// DeriveSessionKey derives the AES-256 session key for a hybrid envelope.
//
// The derivation uses:
//   - IKM: the KEM shared secret
//   - Salt: SHA-256 hash of the KEM ciphertext
//   - Info: HKDFContext || aad length (4 bytes BE) || aad
func DeriveSessionKey(sharedSecret, kemCiphertext, aad []byte) ([]byte, error) {
	saltHash := sha256.Sum256(kemCiphertext)

	aadLength := make([]byte, 4)
	binary.BigEndian.PutUint32(aadLength, uint32(len(aad)))

	info := make([]byte, 0, len(HKDFContext)+4+len(aad))
	info = append(info, []byte(HKDFContext)...)
	info = append(info, aadLength...)
	info = append(info, aad...)

	return DeriveKey(sharedSecret, saltHash[:], info, AESKeySize)
}
