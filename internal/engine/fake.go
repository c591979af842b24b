package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/minkalla/hybridcrypto/internal/crypto"
)

// sessionTTL mirrors the engine's session lifetime.
const sessionTTL = time.Hour

// FakeClient is an in-memory engine implementing the full bridge contract
// with real ML-KEM-768 and ML-DSA-65 operations. It backs tests and local
// development without a subprocess, and supports failure injection so the
// fallback and circuit-breaker paths can be exercised deterministically.
type FakeClient struct {
	mu       sync.Mutex
	kemKeys  map[string]*crypto.KEMKeypair
	sigKeys  map[string]*crypto.SigningKeypair
	failures map[string]error // operation -> injected error
	hang     time.Duration
	calls    int
}

// NewFakeClient creates an empty fake engine.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		kemKeys:  make(map[string]*crypto.KEMKeypair),
		sigKeys:  make(map[string]*crypto.SigningKeypair),
		failures: make(map[string]error),
	}
}

// FailWith injects err for every subsequent call of operation. A nil err
// clears the injection.
func (f *FakeClient) FailWith(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, operation)
		return
	}
	f.failures[operation] = err
}

// FailAll injects err for every operation.
func (f *FakeClient) FailAll(err error) {
	for op := range allowedOperations {
		f.FailWith(op, err)
	}
}

// Recover clears all injected failures and hangs.
func (f *FakeClient) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
	f.hang = 0
}

// HangFor makes every call block for d (or until ctx expires), simulating a
// stuck engine process.
func (f *FakeClient) HangFor(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = d
}

// Calls reports how many calls reached the fake engine.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Call implements Client.
func (f *FakeClient) Call(ctx context.Context, operation string, params Params) (*Response, error) {
	start := time.Now()

	f.mu.Lock()
	f.calls++
	injected := f.failures[operation]
	hang := f.hang
	f.mu.Unlock()

	if hang > 0 {
		timer := time.NewTimer(hang)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}

	switch operation {
	case OpHandshake:
		return &Response{
			Success:             true,
			ProtocolVersion:     "1",
			AlgorithmsSupported: []string{"ML-KEM-768", "ML-DSA-65"},
			PerformanceMetrics:  metricsSince(start),
		}, nil

	case OpGetStatus:
		return &Response{
			Success:             true,
			PQCAvailable:        true,
			AlgorithmsSupported: []string{"ML-KEM-768", "ML-DSA-65"},
			PerformanceMetrics:  metricsSince(start),
		}, nil

	case OpGenerateSessionKey:
		return f.generateSessionKey(params, start)

	case OpSignToken:
		return f.signToken(params, start)

	case OpVerifyToken:
		return f.verifyToken(params, start)
	}

	return &Response{Success: false, ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation)}, nil
}

// generateSessionKey encapsulates a fresh session secret for the subject, or
// recovers an existing one when the params carry a KEM ciphertext.
func (f *FakeClient) generateSessionKey(params Params, start time.Time) (*Response, error) {
	userID, ok := params["user_id"].(string)
	if !ok || userID == "" {
		return &Response{Success: false, ErrorMessage: "user_id parameter required"}, nil
	}

	keypair, err := f.kemKeypairFor(userID)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Key generation failed: %v", err)}, nil
	}

	var sharedSecret, kemCiphertext []byte
	if ctHex, ok := params["ciphertext"].(string); ok && ctHex != "" {
		// Recovery path: decapsulate an existing session.
		kemCiphertext, err = hex.DecodeString(ctHex)
		if err != nil {
			return &Response{Success: false, ErrorMessage: fmt.Sprintf("Deserialization error: %v", err)}, nil
		}
		sharedSecret, err = keypair.Decapsulate(kemCiphertext)
		if err != nil {
			return &Response{Success: false, ErrorMessage: fmt.Sprintf("Decapsulation failed: %v", err)}, nil
		}
	} else {
		sharedSecret, kemCiphertext, err = crypto.Encapsulate(keypair.PublicKey)
		if err != nil {
			return &Response{Success: false, ErrorMessage: fmt.Sprintf("Encapsulation failed: %v", err)}, nil
		}
	}

	now := time.Now().UTC()
	pubHash := sha256.Sum256(keypair.PublicKey)
	sessionID := sha256.Sum256(fmt.Appendf(nil, "%s:%x:%d", userID, sharedSecret, now.UnixNano()))

	return &Response{
		Success: true,
		UserID:  userID,
		SessionData: &SessionData{
			UserID:        userID,
			SessionID:     hex.EncodeToString(sessionID[:]),
			SharedSecret:  hex.EncodeToString(sharedSecret),
			Ciphertext:    hex.EncodeToString(kemCiphertext),
			Algorithm:     "ML-KEM-768",
			CreatedAt:     now.Format(time.RFC3339),
			ExpiresAt:     now.Add(sessionTTL).Format(time.RFC3339),
			PublicKeyHash: hex.EncodeToString(pubHash[:])[:16],
		},
		Algorithm:          "ML-KEM-768",
		PerformanceMetrics: metricsSince(start),
	}, nil
}

func (f *FakeClient) signToken(params Params, start time.Time) (*Response, error) {
	userID, _ := params["user_id"].(string)
	payload, _ := params["payload"].(map[string]any)
	if userID == "" || payload == nil {
		return &Response{Success: false, ErrorMessage: "user_id and payload parameters required"}, nil
	}

	keypair, err := f.sigKeypairFor(userID)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Key generation failed: %v", err)}, nil
	}

	// json.Marshal emits map keys in sorted order, giving a deterministic
	// signing input.
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Serialization error: %v", err)}, nil
	}

	sig, err := keypair.Sign(payloadBytes)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("FFI operation failed: sign - %v", err)}, nil
	}

	pubHash := sha256.Sum256(keypair.PublicKey)
	token, err := json.Marshal(SignedToken{
		Payload:       payload,
		Signature:     hex.EncodeToString(sig),
		Algorithm:     "ML-DSA-65",
		PublicKeyHash: hex.EncodeToString(pubHash[:])[:16],
	})
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Serialization error: %v", err)}, nil
	}

	return &Response{
		Success:            true,
		UserID:             userID,
		Token:              string(token),
		Algorithm:          "ML-DSA-65",
		PerformanceMetrics: metricsSince(start),
	}, nil
}

func (f *FakeClient) verifyToken(params Params, start time.Time) (*Response, error) {
	userID, _ := params["user_id"].(string)
	tokenStr, _ := params["token"].(string)
	if userID == "" || tokenStr == "" {
		return &Response{Success: false, ErrorMessage: "token and user_id parameters required"}, nil
	}

	var token SignedToken
	if err := json.Unmarshal([]byte(tokenStr), &token); err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Invalid token format: %v", err)}, nil
	}
	if token.Algorithm != "ML-DSA-65" {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Unsupported algorithm: %s", token.Algorithm)}, nil
	}

	f.mu.Lock()
	keypair := f.sigKeys[userID]
	f.mu.Unlock()
	if keypair == nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Key not found: %s", userID)}, nil
	}

	payloadBytes, err := json.Marshal(token.Payload)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Serialization error: %v", err)}, nil
	}
	sig, err := hex.DecodeString(token.Signature)
	if err != nil {
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Deserialization error: %v", err)}, nil
	}

	if err := crypto.Verify(keypair.PublicKey, payloadBytes, sig); err != nil {
		if errors.Is(err, crypto.ErrSignatureVerificationFailed) {
			return &Response{Success: false, ErrorMessage: "Signature verification failed"}, nil
		}
		return &Response{Success: false, ErrorMessage: fmt.Sprintf("Invalid key format: %v", err)}, nil
	}

	return &Response{
		Success:            true,
		UserID:             userID,
		Algorithm:          "ML-DSA-65",
		PerformanceMetrics: metricsSince(start),
	}, nil
}

func (f *FakeClient) kemKeypairFor(userID string) (*crypto.KEMKeypair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kp, ok := f.kemKeys[userID]; ok {
		return kp, nil
	}
	kp, err := crypto.GenerateKEMKeypair()
	if err != nil {
		return nil, err
	}
	f.kemKeys[userID] = kp
	return kp, nil
}

func (f *FakeClient) sigKeypairFor(userID string) (*crypto.SigningKeypair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kp, ok := f.sigKeys[userID]; ok {
		return kp, nil
	}
	kp, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, err
	}
	f.sigKeys[userID] = kp
	return kp, nil
}

func metricsSince(start time.Time) *PerformanceMetrics {
	return &PerformanceMetrics{DurationMS: float64(time.Since(start).Microseconds()) / 1000.0}
}
