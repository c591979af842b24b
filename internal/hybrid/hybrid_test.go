package hybrid

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/minkalla/hybridcrypto/internal/breaker"
	"github.com/minkalla/hybridcrypto/internal/engine"
	"github.com/minkalla/hybridcrypto/internal/envelope"
	"github.com/minkalla/hybridcrypto/internal/identity"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

type testEnv struct {
	fake *engine.FakeClient
	sink *telemetry.MemorySink
	reg  *breaker.Registry
	orch *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := engine.NewFakeClient()
	bridge := engine.NewBridge(fake, engine.WithRetry(&engine.RetryConfig{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Multiplier: 1.0,
	}))
	sink := telemetry.NewMemorySink()
	reg := breaker.NewRegistry()
	return &testEnv{
		fake: fake,
		sink: sink,
		reg:  reg,
		orch: New(reg, bridge, WithTelemetrySink(sink)),
	}
}

var errEngineDown = errors.New("engine process not available")

func TestEncryptDecrypt_PrimaryRoundTrip(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	plaintext := []byte("the quick brown fox")

	env, err := te.orch.EncryptWithFallback(ctx, plaintext, "alice@example.com")
	if err != nil {
		t.Fatalf("EncryptWithFallback() error = %v", err)
	}
	if env.Algorithm != envelope.AlgMLKEM768AESGCM {
		t.Errorf("Algorithm = %q, want %q", env.Algorithm, envelope.AlgMLKEM768AESGCM)
	}
	if env.FallbackUsed || env.IsDegraded {
		t.Error("primary envelope marked degraded")
	}
	if !identity.Valid(env.Metadata.CryptoIdentity) {
		t.Errorf("CryptoIdentity = %q, want a valid token", env.Metadata.CryptoIdentity)
	}
	if env.Metadata.KeyRef != "alice@example.com" {
		t.Errorf("KeyRef = %q", env.Metadata.KeyRef)
	}

	got, err := te.orch.DecryptWithFallback(ctx, env, "alice@example.com")
	if err != nil {
		t.Fatalf("DecryptWithFallback() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}

	if events := te.sink.ByType(telemetry.EventCryptoFallbackUsed); len(events) != 0 {
		t.Errorf("fallback events = %d, want 0 on the primary path", len(events))
	}
}

func TestEncrypt_FallbackOnEngineFailure(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailAll(errEngineDown)
	ctx := context.Background()

	env, err := te.orch.EncryptWithFallback(ctx, []byte("payload"), "alice@example.com")
	if err != nil {
		t.Fatalf("EncryptWithFallback() error = %v", err)
	}
	if env.Algorithm != envelope.AlgRSAOAEPAESGCM {
		t.Errorf("Algorithm = %q, want %q", env.Algorithm, envelope.AlgRSAOAEPAESGCM)
	}
	if !env.FallbackUsed || !env.IsDegraded {
		t.Error("fallback envelope not marked degraded")
	}
	if env.Metadata.FallbackReason == "" {
		t.Error("FallbackReason is empty")
	}

	// Exactly one event per logical fallback, carrying the degraded
	// algorithm and the identity token rather than the raw subject.
	events := te.sink.ByType(telemetry.EventCryptoFallbackUsed)
	if len(events) != 1 {
		t.Fatalf("fallback events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Operation != "encrypt" {
		t.Errorf("Operation = %q, want encrypt", ev.Operation)
	}
	if ev.Algorithm != envelope.AlgRSAOAEPAESGCM {
		t.Errorf("Algorithm = %q", ev.Algorithm)
	}
	if ev.SubjectID != env.Metadata.CryptoIdentity {
		t.Errorf("SubjectID = %q, want identity token %q", ev.SubjectID, env.Metadata.CryptoIdentity)
	}
	if strings.Contains(ev.SubjectID, "alice") {
		t.Error("event leaks the raw subject id")
	}
}

func TestDecrypt_ClassicalRoundTrip(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailAll(errEngineDown)
	ctx := context.Background()
	plaintext := []byte("degraded but recoverable")

	env, err := te.orch.EncryptWithFallback(ctx, plaintext, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Classical decryption needs no engine at all.
	got, err := te.orch.DecryptWithFallback(ctx, env, "bob@example.com")
	if err != nil {
		t.Fatalf("DecryptWithFallback() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestDecrypt_PrimaryNeverFallsBack(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	env, err := te.orch.EncryptWithFallback(ctx, []byte("secret"), "carol@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if env.Algorithm != envelope.AlgMLKEM768AESGCM {
		t.Fatalf("setup produced %q", env.Algorithm)
	}

	te.fake.FailAll(errEngineDown)

	_, err = te.orch.DecryptWithFallback(ctx, env, "carol@example.com")
	if err == nil {
		t.Fatal("expected error decrypting a primary envelope with the engine down")
	}
	var dErr *DecryptError
	if !errors.As(err, &dErr) {
		t.Fatalf("got %T, want *DecryptError", err)
	}
	if dErr.Stage != "engine" {
		t.Errorf("Stage = %q, want engine", dErr.Stage)
	}
	if !errors.Is(err, ErrDecryptMismatch) {
		t.Error("DecryptError does not match ErrDecryptMismatch")
	}
}

func TestDecrypt_TamperedPrimaryCiphertext(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	env, err := te.orch.EncryptWithFallback(ctx, []byte("secret"), "carol@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte inside the AEAD portion of the payload.
	raw := []byte(env.Ciphertext)
	raw[len(raw)-2] ^= 0x01
	env.Ciphertext = string(raw)

	_, err = te.orch.DecryptWithFallback(ctx, env, "carol@example.com")
	if err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
	if !errors.Is(err, ErrDecryptMismatch) {
		t.Errorf("got %v, want ErrDecryptMismatch", err)
	}
}

func TestDecrypt_ClassicalWithoutKey(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	env := &envelope.Encryption{
		Algorithm:  envelope.AlgRSAOAEPAESGCM,
		Ciphertext: "AAAA",
	}
	_, err := te.orch.DecryptWithFallback(ctx, env, "nobody@example.com")
	var dErr *DecryptError
	if !errors.As(err, &dErr) {
		t.Fatalf("got %T, want *DecryptError", err)
	}
	if dErr.Stage != "classical" {
		t.Errorf("Stage = %q, want classical", dErr.Stage)
	}
}

func TestDecrypt_UnknownAlgorithm(t *testing.T) {
	te := newTestEnv(t)

	env := &envelope.Encryption{Algorithm: "ROT13:v1", Ciphertext: "AAAA"}
	_, err := te.orch.DecryptWithFallback(context.Background(), env, "alice@example.com")
	if !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("got %v, want ErrUnknownAlgorithm", err)
	}
}

func TestSignVerify_PrimaryRoundTrip(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	message := []byte("attest this")

	env, err := te.orch.SignWithFallback(ctx, message, "alice@example.com")
	if err != nil {
		t.Fatalf("SignWithFallback() error = %v", err)
	}
	if env.Algorithm != envelope.AlgMLDSA65 {
		t.Errorf("Algorithm = %q, want %q", env.Algorithm, envelope.AlgMLDSA65)
	}
	if env.FallbackUsed {
		t.Error("primary signature marked as fallback")
	}

	ok, err := te.orch.VerifyWithFallback(ctx, env, message)
	if err != nil {
		t.Fatalf("VerifyWithFallback() error = %v", err)
	}
	if !ok {
		t.Error("genuine signature did not verify")
	}

	// Same signature, different message: well-formed but not attesting.
	ok, err = te.orch.VerifyWithFallback(ctx, env, []byte("something else"))
	if err != nil {
		t.Fatalf("VerifyWithFallback() error = %v", err)
	}
	if ok {
		t.Error("signature verified against the wrong message")
	}
}

func TestVerify_TamperedToken(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	message := []byte("attest this")

	env, err := te.orch.SignWithFallback(ctx, message, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the signature hex without touching the payload.
	env.Signature = strings.Replace(env.Signature, `"signature":"`, `"signature":"00`, 1)

	ok, err := te.orch.VerifyWithFallback(ctx, env, message)
	if err != nil {
		t.Fatalf("VerifyWithFallback() error = %v", err)
	}
	if ok {
		t.Error("tampered token verified")
	}
}

func TestVerify_TamperedTokenDoesNotTripCircuit(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	message := []byte("attest this")

	env, err := te.orch.SignWithFallback(ctx, message, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	env.Signature = strings.Replace(env.Signature, `"signature":"`, `"signature":"00`, 1)

	// Well past the signing threshold; every rejection is a clean outcome.
	for i := 0; i < 5; i++ {
		ok, err := te.orch.VerifyWithFallback(ctx, env, message)
		if err != nil {
			t.Fatalf("verify %d error = %v", i+1, err)
		}
		if ok {
			t.Fatalf("verify %d accepted a tampered token", i+1)
		}
	}
	if got := te.reg.Get(breaker.CircuitSigning).State(); got != breaker.StateClosed {
		t.Fatalf("signing circuit = %v, want CLOSED: rejected signatures must not trip it", got)
	}

	// Signing still runs on the primary family.
	signed, err := te.orch.SignWithFallback(ctx, message, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if signed.FallbackUsed {
		t.Error("signing degraded to fallback with a healthy engine")
	}
}

func TestDecrypt_RejectedCiphertextDoesNotTripCircuit(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	env, err := te.orch.EncryptWithFallback(ctx, []byte("secret"), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// The engine refuses the ciphertext on every recovery attempt.
	te.fake.FailWith(engine.OpGenerateSessionKey, errors.New("Decapsulation failed: invalid ciphertext"))
	for i := 0; i < 7; i++ {
		_, err := te.orch.DecryptWithFallback(ctx, env, "alice@example.com")
		var dErr *DecryptError
		if !errors.As(err, &dErr) {
			t.Fatalf("decrypt %d: got %T, want *DecryptError", i+1, err)
		}
		if dErr.Stage != "engine" {
			t.Fatalf("decrypt %d: Stage = %q, want engine", i+1, dErr.Stage)
		}
	}
	if got := te.reg.Get(breaker.CircuitEncryption).State(); got != breaker.StateClosed {
		t.Fatalf("encryption circuit = %v, want CLOSED: rejected ciphertext must not trip it", got)
	}

	// The primary path is intact once the injected refusal is cleared.
	te.fake.Recover()
	fresh, err := te.orch.EncryptWithFallback(ctx, []byte("secret"), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.FallbackUsed {
		t.Error("encryption degraded to fallback with a healthy engine")
	}
}

func TestDecrypt_PrimaryWithoutIdentity(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	env, err := te.orch.EncryptWithFallback(ctx, []byte("secret"), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	env.Metadata.CryptoIdentity = ""

	_, err = te.orch.DecryptWithFallback(ctx, env, "alice@example.com")
	var dErr *DecryptError
	if !errors.As(err, &dErr) {
		t.Fatalf("got %T, want *DecryptError", err)
	}
	if dErr.Stage != "decode" {
		t.Errorf("Stage = %q, want decode", dErr.Stage)
	}
	if !errors.Is(err, ErrMissingIdentity) {
		t.Error("error does not match ErrMissingIdentity")
	}
}

func TestVerify_MissingIdentity(t *testing.T) {
	te := newTestEnv(t)

	env := &envelope.Signature{
		Algorithm: envelope.AlgMLDSA65,
		Signature: `{"payload":{},"signature":"00","algorithm":"ML-DSA-65"}`,
	}
	_, err := te.orch.VerifyWithFallback(context.Background(), env, []byte("m"))
	if !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("got %v, want ErrMissingIdentity", err)
	}
}

func TestSignVerify_ClassicalFallback(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailAll(errEngineDown)
	ctx := context.Background()
	message := []byte("degraded attestation")

	env, err := te.orch.SignWithFallback(ctx, message, "dave@example.com")
	if err != nil {
		t.Fatalf("SignWithFallback() error = %v", err)
	}
	if env.Algorithm != envelope.AlgRSAPSS {
		t.Errorf("Algorithm = %q, want %q", env.Algorithm, envelope.AlgRSAPSS)
	}
	if !env.FallbackUsed || !env.IsDegraded {
		t.Error("fallback signature not marked degraded")
	}
	if env.Metadata.PublicKey == "" {
		t.Fatal("fallback signature carries no public key")
	}

	// The envelope is self-contained: verification needs no engine and no
	// keyring state beyond the recorded public key.
	ok, err := te.orch.VerifyWithFallback(ctx, env, message)
	if err != nil {
		t.Fatalf("VerifyWithFallback() error = %v", err)
	}
	if !ok {
		t.Error("classical fallback signature did not verify")
	}

	ok, err = te.orch.VerifyWithFallback(ctx, env, []byte("wrong message"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("classical signature verified against the wrong message")
	}

	events := te.sink.ByType(telemetry.EventCryptoFallbackUsed)
	if len(events) != 1 {
		t.Fatalf("fallback events = %d, want 1", len(events))
	}
	if events[0].Operation != "sign" {
		t.Errorf("Operation = %q, want sign", events[0].Operation)
	}
}

func TestVerify_ClassicalWithoutPublicKey(t *testing.T) {
	te := newTestEnv(t)

	env := &envelope.Signature{Algorithm: envelope.AlgRSAPSS, Signature: "AAAA"}
	_, err := te.orch.VerifyWithFallback(context.Background(), env, []byte("m"))
	if !errors.Is(err, ErrMissingPublicKey) {
		t.Errorf("got %v, want ErrMissingPublicKey", err)
	}
}

func TestVerify_UnknownAlgorithm(t *testing.T) {
	te := newTestEnv(t)

	env := &envelope.Signature{Algorithm: "HMAC-MD5:v1", Signature: "AAAA"}
	_, err := te.orch.VerifyWithFallback(context.Background(), env, []byte("m"))
	if !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("got %v, want ErrUnknownAlgorithm", err)
	}
}

func TestGenerateKeyPair_Primary(t *testing.T) {
	te := newTestEnv(t)

	pair, err := te.orch.GenerateKeyPairWithFallback(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GenerateKeyPairWithFallback() error = %v", err)
	}
	if pair.Algorithm != envelope.AlgMLKEM768AESGCM {
		t.Errorf("Algorithm = %q", pair.Algorithm)
	}
	if pair.FallbackUsed {
		t.Error("primary keypair marked as fallback")
	}
	// Engine-held keys never export private material; the result addresses
	// the key by fingerprint and identity token.
	if pair.PrivateKey != "" {
		t.Error("primary keypair leaked private material")
	}
	if pair.PublicKey == "" {
		t.Error("primary keypair carries no fingerprint")
	}
	if !identity.Valid(pair.CryptoIdentity) {
		t.Errorf("CryptoIdentity = %q, want a valid token", pair.CryptoIdentity)
	}
}

func TestGenerateKeyPair_Fallback(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailAll(errEngineDown)

	pair, err := te.orch.GenerateKeyPairWithFallback(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GenerateKeyPairWithFallback() error = %v", err)
	}
	if pair.Algorithm != envelope.AlgRSAOAEPAESGCM {
		t.Errorf("Algorithm = %q", pair.Algorithm)
	}
	if !pair.FallbackUsed {
		t.Error("fallback keypair not marked")
	}
	if pair.PublicKey == "" || pair.PrivateKey == "" {
		t.Error("fallback keypair is incomplete")
	}

	events := te.sink.ByType(telemetry.EventCryptoFallbackUsed)
	if len(events) != 1 {
		t.Fatalf("fallback events = %d, want 1", len(events))
	}
	if events[0].Operation != "generate-keypair" {
		t.Errorf("Operation = %q", events[0].Operation)
	}
}

func TestEncrypt_CircuitOpenServedByFallback(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailAll(errEngineDown)
	ctx := context.Background()

	// Default encryption threshold is 5; drive the circuit open.
	for i := 0; i < 5; i++ {
		if _, err := te.orch.EncryptWithFallback(ctx, []byte("x"), "alice@example.com"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	// With the circuit open the engine is no longer consulted, but callers
	// still get a degraded envelope.
	before := te.fake.Calls()
	env, err := te.orch.EncryptWithFallback(ctx, []byte("x"), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !env.FallbackUsed {
		t.Error("envelope not degraded while circuit open")
	}
	if te.fake.Calls() != before {
		t.Errorf("engine reached %d times while circuit open, want 0", te.fake.Calls()-before)
	}
}

func TestEncrypt_DistinctSubjectsDistinctIdentities(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	a, err := te.orch.EncryptWithFallback(ctx, []byte("x"), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := te.orch.EncryptWithFallback(ctx, []byte("x"), "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if a.Metadata.CryptoIdentity == b.Metadata.CryptoIdentity {
		t.Error("distinct subjects derived the same identity token")
	}
}
