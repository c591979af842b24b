package classical

import (
	"bytes"
	"errors"
	"testing"

	"github.com/minkalla/hybridcrypto/internal/crypto"
)

func TestEncrypt_Decrypt_RoundTrip(t *testing.T) {
	p := NewProvider()
	key, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"longer than modulus", make([]byte, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := p.Encrypt(&key.PublicKey, tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			got, err := p.Decrypt(key, blob)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("decrypted = %v, want %v", got, tt.plaintext)
			}
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	p := NewProvider()
	key1, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	key2, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	blob, err := p.Encrypt(&key1.PublicKey, []byte("sensitive"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Decrypt(key2, blob)
	if !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	p := NewProvider()
	key, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	blob, err := p.Encrypt(&key.PublicKey, []byte("sensitive"))
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0xff

	if _, err := p.Decrypt(key, blob); err == nil {
		t.Error("expected error for tampered blob")
	}
}

func TestDecrypt_NoPrivateKey(t *testing.T) {
	p := NewProvider()
	_, err := p.Decrypt(nil, make([]byte, 512))
	if !errors.Is(err, ErrNoPrivateKey) {
		t.Errorf("expected ErrNoPrivateKey, got %v", err)
	}
}

func TestSign_Verify(t *testing.T) {
	p := NewProvider()
	key, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("signed payload")
	sig, err := p.Sign(key, message)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := p.Verify(&key.PublicKey, message, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	err = p.Verify(&key.PublicKey, []byte("other message"), sig)
	if !errors.Is(err, crypto.ErrSignatureVerificationFailed) {
		t.Errorf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestSignEphemeral(t *testing.T) {
	p := NewProvider()

	message := []byte("one-off payload")
	sig, pub, err := p.SignEphemeral(message)
	if err != nil {
		t.Fatalf("SignEphemeral() error = %v", err)
	}
	if pub == nil {
		t.Fatal("SignEphemeral() returned nil public key")
	}

	if err := p.Verify(pub, message, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestKeyCodecs_RoundTrip(t *testing.T) {
	p := NewProvider()
	key, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	pubDER, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey() error = %v", err)
	}
	pub, err := DecodePublicKey(pubDER)
	if err != nil {
		t.Fatalf("DecodePublicKey() error = %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
		t.Error("decoded public key does not match original")
	}

	privDER, err := EncodePrivateKey(key)
	if err != nil {
		t.Fatalf("EncodePrivateKey() error = %v", err)
	}
	priv, err := DecodePrivateKey(privDER)
	if err != nil {
		t.Fatalf("DecodePrivateKey() error = %v", err)
	}
	if priv.D.Cmp(key.D) != 0 {
		t.Error("decoded private key does not match original")
	}

	// A decoded key must still decrypt blobs made for the original.
	blob, err := p.Encrypt(pub, []byte("cross-codec"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Decrypt(priv, blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("cross-codec")) {
		t.Error("round trip through codecs failed")
	}
}

func TestDecodePublicKey_Malformed(t *testing.T) {
	if _, err := DecodePublicKey([]byte("not der")); err == nil {
		t.Error("expected error for malformed DER")
	}
}
