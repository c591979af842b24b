// Package hybrid dispatches cryptographic operations across two algorithm
// families: the quantum-safe suite served by the external engine, and the
// in-process classical suite. The primary path runs under a per-operation
// circuit breaker; when it fails or the circuit is open, the classical
// provider serves the call and the envelope records the degradation. Decrypt
// and verify never fall back: the envelope's algorithm tag alone selects the
// path, and a failure on that path is final.
package hybrid

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minkalla/hybridcrypto/internal/breaker"
	"github.com/minkalla/hybridcrypto/internal/classical"
	"github.com/minkalla/hybridcrypto/internal/crypto"
	"github.com/minkalla/hybridcrypto/internal/engine"
	"github.com/minkalla/hybridcrypto/internal/envelope"
	"github.com/minkalla/hybridcrypto/internal/identity"
	"github.com/minkalla/hybridcrypto/internal/logger"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

// Logical operation names used for identity derivation and telemetry.
const (
	opEncrypt = "encrypt"
	opSign    = "sign"
	opKeyGen  = "generate-keypair"
)

// Base algorithm names fed into identity derivation. These are the engine's
// algorithm identifiers, not the versioned envelope tags, so tokens stay
// stable across envelope format revisions.
const (
	kemAlgorithm  = "ML-KEM-768"
	signAlgorithm = "ML-DSA-65"
)

// Orchestrator routes operations between the engine-backed primary family and
// the classical fallback. It is safe for concurrent use.
type Orchestrator struct {
	breakers  *breaker.Registry
	bridge    *engine.Bridge
	classical *classical.Provider
	keys      *keyring
	sink      telemetry.Sink
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTelemetrySink routes fallback events to sink.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithClock overrides the orchestrator clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator over the given circuit registry and engine
// bridge.
func New(breakers *breaker.Registry, bridge *engine.Bridge, opts ...Option) *Orchestrator {
	provider := classical.NewProvider()
	o := &Orchestrator{
		breakers:  breakers,
		bridge:    bridge,
		classical: provider,
		keys:      newKeyring(provider),
		sink:      telemetry.NopSink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EncryptWithFallback encrypts plaintext for keyRef. The primary path asks
// the engine for an ML-KEM-768 session, derives an AES-256-GCM key from the
// shared secret, and binds the ciphertext to the CryptoIdentity token via the
// AEAD associated data. When the primary path fails or its circuit is open,
// the classical provider seals the plaintext instead and the returned
// envelope is marked degraded.
func (o *Orchestrator) EncryptWithFallback(ctx context.Context, plaintext []byte, keyRef string) (*envelope.Encryption, error) {
	id, err := identity.Derive(keyRef, kemAlgorithm, opEncrypt)
	if err != nil {
		return nil, err
	}

	start := o.now()
	var env *envelope.Encryption

	primary := func(ctx context.Context) error {
		resp, err := o.bridge.Call(ctx, engine.OpGenerateSessionKey, engine.Params{"user_id": id})
		if err != nil {
			return err
		}
		env, err = o.sealPrimary(resp, plaintext, id, keyRef)
		return err
	}
	fallback := func(_ context.Context, cause error) error {
		var ferr error
		env, ferr = o.encryptClassical(plaintext, keyRef, id, cause)
		return ferr
	}

	if err := o.breakers.Execute(ctx, breaker.CircuitEncryption, primary, fallback); err != nil {
		return nil, err
	}
	if env.FallbackUsed {
		o.emitFallback(opEncrypt, env.Algorithm, id, env.Metadata.FallbackReason, o.now().Sub(start))
	}
	return env, nil
}

// sealPrimary turns an engine session response into a primary-family
// envelope. The wire layout is kemCiphertext || nonce || ciphertext || tag,
// base64url-encoded.
func (o *Orchestrator) sealPrimary(resp *engine.Response, plaintext []byte, id, keyRef string) (*envelope.Encryption, error) {
	sd := resp.SessionData
	if sd == nil {
		return nil, fmt.Errorf("%w: response carries no session data", engine.ErrMalformedResponse)
	}

	shared, err := hex.DecodeString(sd.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: shared secret: %v", engine.ErrMalformedResponse, err)
	}
	kemCt, err := hex.DecodeString(sd.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: session ciphertext: %v", engine.ErrMalformedResponse, err)
	}
	if len(kemCt) != crypto.MLKEMCiphertextSize {
		return nil, fmt.Errorf("%w: session ciphertext is %d bytes", engine.ErrMalformedResponse, len(kemCt))
	}

	key, err := crypto.DeriveSessionKey(shared, kemCt, []byte(id))
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(key, plaintext, []byte(id))
	if err != nil {
		return nil, err
	}

	return &envelope.Encryption{
		Algorithm:  envelope.AlgMLKEM768AESGCM,
		Ciphertext: crypto.ToBase64URL(append(kemCt, sealed...)),
		Metadata: envelope.Metadata{
			Timestamp:      o.now().UTC(),
			KeyRef:         keyRef,
			CryptoIdentity: id,
		},
	}, nil
}

func (o *Orchestrator) encryptClassical(plaintext []byte, keyRef, id string, cause error) (*envelope.Encryption, error) {
	key, err := o.keys.getOrCreate(keyRef)
	if err != nil {
		return nil, err
	}
	blob, err := o.classical.Encrypt(&key.PublicKey, plaintext)
	if err != nil {
		return nil, err
	}

	return &envelope.Encryption{
		Algorithm:    envelope.AlgRSAOAEPAESGCM,
		Ciphertext:   crypto.ToBase64URL(blob),
		FallbackUsed: true,
		IsDegraded:   true,
		Metadata: envelope.Metadata{
			Timestamp:      o.now().UTC(),
			KeyRef:         keyRef,
			CryptoIdentity: id,
			FallbackReason: cause.Error(),
		},
	}, nil
}

// DecryptWithFallback decrypts an envelope. The envelope's algorithm tag
// alone selects the path: primary envelopes recover their session secret
// through the engine, classical envelopes through the in-process keyring.
// There is no cross-family retry; a failure on the tagged path is final.
func (o *Orchestrator) DecryptWithFallback(ctx context.Context, env *envelope.Encryption, keyRef string) ([]byte, error) {
	switch env.Algorithm {
	case envelope.AlgMLKEM768AESGCM:
		return o.decryptPrimary(ctx, env)
	case envelope.AlgRSAOAEPAESGCM:
		return o.decryptClassical(env, keyRef)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, env.Algorithm)
}

func (o *Orchestrator) decryptPrimary(ctx context.Context, env *envelope.Encryption) ([]byte, error) {
	// The envelope must be self-describing; the identity bound into the AEAD
	// at encryption time is never reconstructed from caller inputs.
	id := env.Metadata.CryptoIdentity
	if !identity.Valid(id) {
		return nil, &DecryptError{Stage: "decode", Err: ErrMissingIdentity}
	}

	payload, err := crypto.FromBase64URL(env.Ciphertext)
	if err != nil {
		return nil, &DecryptError{Stage: "decode", Err: err}
	}
	if len(payload) < crypto.MLKEMCiphertextSize+crypto.AESNonceSize+crypto.AESTagSize {
		return nil, &DecryptError{Stage: "decode", Err: crypto.ErrCiphertextTooShort}
	}
	kemCt := payload[:crypto.MLKEMCiphertextSize]
	sealed := payload[crypto.MLKEMCiphertextSize:]

	var shared []byte
	var rejected error
	recoverSession := func(ctx context.Context) error {
		resp, err := o.bridge.Call(ctx, engine.OpGenerateSessionKey, engine.Params{
			"user_id":    id,
			"ciphertext": hex.EncodeToString(kemCt),
		})
		if err != nil {
			// The engine refusing tampered ciphertext is a caller-input
			// outcome; the circuit reflects engine health only.
			if engineRejected(err, "decapsulation failed") {
				rejected = err
				return nil
			}
			return err
		}
		if resp.SessionData == nil {
			return fmt.Errorf("%w: response carries no session data", engine.ErrMalformedResponse)
		}
		shared, err = hex.DecodeString(resp.SessionData.SharedSecret)
		if err != nil {
			return fmt.Errorf("%w: shared secret: %v", engine.ErrMalformedResponse, err)
		}
		return nil
	}
	if err := o.breakers.Execute(ctx, breaker.CircuitEncryption, recoverSession, nil); err != nil {
		return nil, &DecryptError{Stage: "engine", Err: err}
	}
	if rejected != nil {
		return nil, &DecryptError{Stage: "engine", Err: rejected}
	}

	key, err := crypto.DeriveSessionKey(shared, kemCt, []byte(id))
	if err != nil {
		return nil, &DecryptError{Stage: "kdf", Err: err}
	}
	plaintext, err := crypto.Open(key, sealed, []byte(id))
	if err != nil {
		return nil, &DecryptError{Stage: "aead", Err: err}
	}
	return plaintext, nil
}

func (o *Orchestrator) decryptClassical(env *envelope.Encryption, keyRef string) ([]byte, error) {
	key, ok := o.keys.get(keyRef)
	if !ok {
		return nil, &DecryptError{Stage: "classical", Err: classical.ErrNoPrivateKey}
	}
	blob, err := crypto.FromBase64URL(env.Ciphertext)
	if err != nil {
		return nil, &DecryptError{Stage: "decode", Err: err}
	}
	plaintext, err := o.classical.Decrypt(key, blob)
	if err != nil {
		return nil, &DecryptError{Stage: "classical", Err: err}
	}
	return plaintext, nil
}

// SignWithFallback signs message for keyRef. The primary path asks the engine
// for an ML-DSA-65 signed token over a payload carrying the message digest
// and the CryptoIdentity token; the classical path signs with the keyring's
// RSA key and records the public half in the envelope so the signature stays
// verifiable anywhere.
func (o *Orchestrator) SignWithFallback(ctx context.Context, message []byte, keyRef string) (*envelope.Signature, error) {
	id, err := identity.Derive(keyRef, signAlgorithm, opSign)
	if err != nil {
		return nil, err
	}

	start := o.now()
	payload := map[string]any{
		"message_b64": crypto.ToBase64URL(message),
		"subject":     id,
		"iat":         o.now().UTC().Unix(),
	}

	var env *envelope.Signature
	primary := func(ctx context.Context) error {
		resp, err := o.bridge.Call(ctx, engine.OpSignToken, engine.Params{"user_id": id, "payload": payload})
		if err != nil {
			return err
		}
		if resp.Token == "" {
			return fmt.Errorf("%w: response carries no token", engine.ErrMalformedResponse)
		}
		env = &envelope.Signature{
			Algorithm: envelope.AlgMLDSA65,
			Signature: resp.Token,
			Metadata: envelope.Metadata{
				Timestamp:      o.now().UTC(),
				KeyRef:         keyRef,
				CryptoIdentity: id,
			},
		}
		return nil
	}
	fallback := func(_ context.Context, cause error) error {
		var ferr error
		env, ferr = o.signClassical(message, keyRef, id, cause)
		return ferr
	}

	if err := o.breakers.Execute(ctx, breaker.CircuitSigning, primary, fallback); err != nil {
		return nil, err
	}
	if env.FallbackUsed {
		o.emitFallback(opSign, env.Algorithm, id, env.Metadata.FallbackReason, o.now().Sub(start))
	}
	return env, nil
}

func (o *Orchestrator) signClassical(message []byte, keyRef, id string, cause error) (*envelope.Signature, error) {
	key, err := o.keys.getOrCreate(keyRef)
	if err != nil {
		return nil, err
	}
	sig, err := o.classical.Sign(key, message)
	if err != nil {
		return nil, err
	}
	pubDER, err := classical.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &envelope.Signature{
		Algorithm:    envelope.AlgRSAPSS,
		Signature:    crypto.ToBase64URL(sig),
		FallbackUsed: true,
		IsDegraded:   true,
		Metadata: envelope.Metadata{
			Timestamp:      o.now().UTC(),
			KeyRef:         keyRef,
			CryptoIdentity: id,
			FallbackReason: cause.Error(),
			PublicKey:      crypto.ToBase64URL(pubDER),
		},
	}, nil
}

// VerifyWithFallback checks a signature envelope against message. The
// CryptoIdentity and public key are recovered from the envelope metadata
// recorded at signing time, never recomputed from caller inputs. It returns
// (false, nil) for a well-formed signature that does not verify, and a
// non-nil error only when verification could not be carried out.
func (o *Orchestrator) VerifyWithFallback(ctx context.Context, env *envelope.Signature, message []byte) (bool, error) {
	switch env.Algorithm {
	case envelope.AlgMLDSA65:
		return o.verifyPrimary(ctx, env, message)
	case envelope.AlgRSAPSS:
		return o.verifyClassical(env, message)
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, env.Algorithm)
}

func (o *Orchestrator) verifyPrimary(ctx context.Context, env *envelope.Signature, message []byte) (bool, error) {
	id := env.Metadata.CryptoIdentity
	if !identity.Valid(id) {
		return false, ErrMissingIdentity
	}

	var token engine.SignedToken
	if err := json.Unmarshal([]byte(env.Signature), &token); err != nil {
		return false, fmt.Errorf("parse signature token: %w", err)
	}
	if msgB64, _ := token.Payload["message_b64"].(string); msgB64 != crypto.ToBase64URL(message) {
		// Signature may be genuine, but it does not attest this message.
		return false, nil
	}

	verified := false
	verify := func(ctx context.Context) error {
		_, err := o.bridge.Call(ctx, engine.OpVerifyToken, engine.Params{"user_id": id, "token": env.Signature})
		if err == nil {
			verified = true
			return nil
		}
		// A rejected signature is a business outcome from a healthy engine;
		// it must not count toward the circuit.
		if engineRejected(err, "signature verification failed") {
			return nil
		}
		return err
	}
	if err := o.breakers.Execute(ctx, breaker.CircuitSigning, verify, nil); err != nil {
		return false, err
	}
	return verified, nil
}

// engineRejected reports whether err is the engine refusing the supplied
// input with the given message, as opposed to the engine itself failing.
func engineRejected(err error, msg string) bool {
	var callErr *engine.CallError
	return errors.As(err, &callErr) && strings.Contains(strings.ToLower(callErr.Message), msg)
}

func (o *Orchestrator) verifyClassical(env *envelope.Signature, message []byte) (bool, error) {
	if env.Metadata.PublicKey == "" {
		return false, ErrMissingPublicKey
	}
	pubDER, err := crypto.FromBase64URL(env.Metadata.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := classical.DecodePublicKey(pubDER)
	if err != nil {
		return false, err
	}
	sig, err := crypto.FromBase64URL(env.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	if err := o.classical.Verify(pub, message, sig); err != nil {
		if errors.Is(err, crypto.ErrSignatureVerificationFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GenerateKeyPairWithFallback provisions key material for keyRef. The primary
// path establishes an engine-held ML-KEM-768 keypair addressed by the
// CryptoIdentity token; its private half never leaves the engine, so the
// result carries the key fingerprint instead of private material. On
// fallback a classical keypair is generated in-process and returned in full.
func (o *Orchestrator) GenerateKeyPairWithFallback(ctx context.Context, keyRef string) (*envelope.KeyPair, error) {
	id, err := identity.Derive(keyRef, kemAlgorithm, opKeyGen)
	if err != nil {
		return nil, err
	}

	start := o.now()
	var pair *envelope.KeyPair

	primary := func(ctx context.Context) error {
		resp, err := o.bridge.Call(ctx, engine.OpGenerateSessionKey, engine.Params{"user_id": id})
		if err != nil {
			return err
		}
		if resp.SessionData == nil {
			return fmt.Errorf("%w: response carries no session data", engine.ErrMalformedResponse)
		}
		pair = &envelope.KeyPair{
			Algorithm:      envelope.AlgMLKEM768AESGCM,
			PublicKey:      resp.SessionData.PublicKeyHash,
			CryptoIdentity: id,
		}
		return nil
	}
	fallback := func(_ context.Context, cause error) error {
		key, err := o.keys.getOrCreate(keyRef)
		if err != nil {
			return err
		}
		pubDER, err := classical.EncodePublicKey(&key.PublicKey)
		if err != nil {
			return err
		}
		privDER, err := classical.EncodePrivateKey(key)
		if err != nil {
			return err
		}
		pair = &envelope.KeyPair{
			Algorithm:      envelope.AlgRSAOAEPAESGCM,
			PublicKey:      crypto.ToBase64URL(pubDER),
			PrivateKey:     crypto.ToBase64URL(privDER),
			CryptoIdentity: id,
			FallbackUsed:   true,
		}
		o.emitFallback(opKeyGen, pair.Algorithm, id, cause.Error(), o.now().Sub(start))
		return nil
	}

	if err := o.breakers.Execute(ctx, breaker.CircuitKeyGeneration, primary, fallback); err != nil {
		return nil, err
	}
	return pair, nil
}

// EngineStatus queries the engine's self-described health directly, outside
// any circuit, so operators can probe a tripped engine.
func (o *Orchestrator) EngineStatus(ctx context.Context) (*engine.Response, error) {
	return o.bridge.Call(ctx, engine.OpGetStatus, engine.Params{})
}

// ClassicalReady reports whether the classical provider can serve fallback
// calls by exercising a key generation.
func (o *Orchestrator) ClassicalReady() bool {
	_, err := o.classical.GenerateKeyPair()
	return err == nil
}

func (o *Orchestrator) emitFallback(operation, algorithm, id, reason string, d time.Duration) {
	o.sink.Emit(telemetry.Event{
		Type:      telemetry.EventCryptoFallbackUsed,
		Timestamp: o.now().UTC(),
		Operation: operation,
		Algorithm: algorithm,
		SubjectID: id,
		Reason:    reason,
		Duration:  d,
	})
	logger.Logger.Warn().
		Str("operation", operation).
		Str("algorithm", algorithm).
		Str("cryptoIdentity", id).
		Str("reason", reason).
		Msg("classical fallback engaged")
}
