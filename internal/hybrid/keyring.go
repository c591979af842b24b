package hybrid

import (
	"crypto/rsa"
	"sync"

	"github.com/minkalla/hybridcrypto/internal/classical"
)

// keyring caches classical keypairs per key reference for the lifetime of
// the process, mirroring the engine's per-subject key cache. Fallback
// operations for the same subject therefore stay mutually verifiable while
// the process lives; nothing is persisted.
type keyring struct {
	provider *classical.Provider

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
}

func newKeyring(provider *classical.Provider) *keyring {
	return &keyring{
		provider: provider,
		keys:     make(map[string]*rsa.PrivateKey),
	}
}

// getOrCreate returns the cached keypair for keyRef, generating one on first
// use.
func (k *keyring) getOrCreate(keyRef string) (*rsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[keyRef]; ok {
		return key, nil
	}

	key, err := k.provider.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	k.keys[keyRef] = key
	return key, nil
}

// get returns the cached keypair for keyRef, if any.
func (k *keyring) get(keyRef string) (*rsa.PrivateKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[keyRef]
	return key, ok
}
