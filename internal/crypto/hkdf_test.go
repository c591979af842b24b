package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte("shared secret material")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := DeriveKey(secret, salt, info, AESKeySize)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	key2, err := DeriveKey(secret, salt, info, AESKeySize)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}

	if !bytes.Equal(key1, key2) {
		t.Error("same inputs derived different keys")
	}
	if len(key1) != AESKeySize {
		t.Errorf("key length = %d, want %d", len(key1), AESKeySize)
	}
}

func TestDeriveKey_DifferentInfo(t *testing.T) {
	secret := []byte("shared secret material")

	key1, err := DeriveKey(secret, nil, []byte("context-a"), AESKeySize)
	if err != nil {
		t.Fatal(err)
	}
	key2, err := DeriveKey(secret, nil, []byte("context-b"), AESKeySize)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(key1, key2) {
		t.Error("different info derived identical keys")
	}
}

func TestDeriveSessionKey(t *testing.T) {
	shared := make([]byte, MLKEMSharedKeySize)
	kemCt := make([]byte, MLKEMCiphertextSize)
	if _, err := rand.Read(shared); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(kemCt); err != nil {
		t.Fatal(err)
	}
	aad := []byte("0123456789abcdef0123456789abcdef")

	key1, err := DeriveSessionKey(shared, kemCt, aad)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	if len(key1) != AESKeySize {
		t.Errorf("session key length = %d, want %d", len(key1), AESKeySize)
	}

	// Deterministic for the same inputs.
	key2, err := DeriveSessionKey(shared, kemCt, aad)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("same inputs derived different session keys")
	}

	// Different AAD must change the key.
	key3, err := DeriveSessionKey(shared, kemCt, []byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("different aad derived identical session keys")
	}

	// Different KEM ciphertext must change the key via the salt.
	kemCt[0] ^= 0xff
	key4, err := DeriveSessionKey(shared, kemCt, aad)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(key1, key4) {
		t.Error("different kem ciphertext derived identical session keys")
	}
}
