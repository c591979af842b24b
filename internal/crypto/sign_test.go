package crypto

import (
	"errors"
	"testing"
)

func TestSigningKeypair_SignVerify(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair() error = %v", err)
	}

	if len(kp.PublicKey) != MLDSAPublicKeySize {
		t.Errorf("PublicKey size = %d, want %d", len(kp.PublicKey), MLDSAPublicKeySize)
	}
	if len(kp.PrivateKey) != MLDSAPrivateKeySize {
		t.Errorf("PrivateKey size = %d, want %d", len(kp.PrivateKey), MLDSAPrivateKeySize)
	}

	message := []byte("signed payload")
	sig, err := kp.Sign(message)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(sig) != MLDSASignatureSize {
		t.Errorf("signature size = %d, want %d", len(sig), MLDSASignatureSize)
	}

	if err := Verify(kp.PublicKey, message, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_WrongMessage(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}

	sig, err := kp.Sign([]byte("original message"))
	if err != nil {
		t.Fatal(err)
	}

	err = Verify(kp.PublicKey, []byte("tampered message"), sig)
	if !errors.Is(err, ErrSignatureVerificationFailed) {
		t.Errorf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestVerify_WrongKey(t *testing.T) {
	kp1, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}
	kp2, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("signed payload")
	sig, err := kp1.Sign(message)
	if err != nil {
		t.Fatal(err)
	}

	err = Verify(kp2.PublicKey, message, sig)
	if !errors.Is(err, ErrSignatureVerificationFailed) {
		t.Errorf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("signed payload")
	sig, err := kp.Sign(message)
	if err != nil {
		t.Fatal(err)
	}
	sig[len(sig)/2] ^= 0xff

	err = Verify(kp.PublicKey, message, sig)
	if !errors.Is(err, ErrSignatureVerificationFailed) {
		t.Errorf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestVerify_MalformedPublicKey(t *testing.T) {
	kp, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := kp.Sign([]byte("m"))
	if err != nil {
		t.Fatal(err)
	}

	if err := Verify([]byte("not a key"), []byte("m"), sig); err == nil {
		t.Error("expected error for malformed public key")
	}
}
