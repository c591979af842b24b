package crypto

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// randReader is the random source used for key generation.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

// KEMKeypair represents an ML-KEM-768 keypair for key encapsulation.
type KEMKeypair struct {
	// PublicKey is the raw ML-KEM-768 public key bytes.
	PublicKey []byte
	// SecretKey is the raw ML-KEM-768 secret key bytes.
	SecretKey []byte
}

// GenerateKEMKeypair creates a new ML-KEM-768 keypair.
func GenerateKEMKeypair() (*KEMKeypair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(randReader)
	if err != nil {
		return nil, err
	}

	// MarshalBinary never fails for valid keys from GenerateKeyPair
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &KEMKeypair{
		PublicKey: pubBytes,
		SecretKey: privBytes,
	}, nil
}

// KEMKeypairFromSecretKey reconstructs a keypair from the secret key.
// The public key is embedded in the secret key at offset 1152.
func KEMKeypairFromSecretKey(secretKey []byte) (*KEMKeypair, error) {
	if len(secretKey) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}

	publicKey := make([]byte, MLKEMPublicKeySize)
	copy(publicKey, secretKey[PublicKeyOffset:PublicKeyOffset+MLKEMPublicKeySize])

	return &KEMKeypair{
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

// Encapsulate generates a fresh shared secret for the given public key and
// returns (sharedSecret, kemCiphertext).
func Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	if len(publicKey) != MLKEMPublicKeySize {
		return nil, nil, ErrInvalidPublicKeySize
	}

	var pub mlkem768.PublicKey
	if err := pub.Unpack(publicKey); err != nil {
		return nil, nil, err
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, err
	}

	ciphertext := make([]byte, MLKEMCiphertextSize)
	sharedSecret := make([]byte, MLKEMSharedKeySize)
	pub.EncapsulateTo(ciphertext, sharedSecret, seed)

	return sharedSecret, ciphertext, nil
}

// Decapsulate recovers the shared secret from the encapsulated key.
func (k *KEMKeypair) Decapsulate(kemCiphertext []byte) ([]byte, error) {
	if len(kemCiphertext) != MLKEMCiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}

	var privKey mlkem768.PrivateKey
	if err := privKey.Unpack(k.SecretKey); err != nil {
		return nil, err
	}

	sharedSecret := make([]byte, MLKEMSharedKeySize)
	privKey.DecapsulateTo(sharedSecret, kemCiphertext)

	return sharedSecret, nil
}
