package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minkalla/hybridcrypto/internal/crypto"
)

const sessionTTL = time.Hour

// response is the bridge wire format. A failed call carries ErrorMessage and
// nothing else of substance.
type response struct {
	Success             bool           `json:"success"`
	UserID              string         `json:"user_id,omitempty"`
	SessionData         *sessionData   `json:"session_data,omitempty"`
	Token               string         `json:"token,omitempty"`
	Algorithm           string         `json:"algorithm,omitempty"`
	PQCAvailable        bool           `json:"pqc_available,omitempty"`
	AlgorithmsSupported []string       `json:"algorithms_supported,omitempty"`
	ProtocolVersion     string         `json:"protocol_version,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	PerformanceMetrics  *perfMetrics   `json:"performance_metrics,omitempty"`
}

type sessionData struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	SharedSecret  string `json:"shared_secret"`
	Ciphertext    string `json:"ciphertext"`
	Algorithm     string `json:"algorithm"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at"`
	PublicKeyHash string `json:"public_key_hash"`
}

type perfMetrics struct {
	DurationMS float64 `json:"duration_ms"`
}

type signedToken struct {
	Payload       map[string]any `json:"payload"`
	Signature     string         `json:"signature"`
	Algorithm     string         `json:"algorithm"`
	PublicKeyHash string         `json:"public_key_hash"`
}

// engine serves one operation against the disk-backed key store.
type engine struct {
	keys *keystore
}

func newEngine(dir string) (*engine, error) {
	ks, err := newKeystore(dir)
	if err != nil {
		return nil, err
	}
	return &engine{keys: ks}, nil
}

func (e *engine) handle(operation string, params map[string]any) *response {
	start := time.Now()

	switch operation {
	case "handshake":
		return &response{
			Success:             true,
			ProtocolVersion:     "1",
			AlgorithmsSupported: []string{"ML-KEM-768", "ML-DSA-65"},
			PerformanceMetrics:  metricsSince(start),
		}
	case "get_status":
		return &response{
			Success:             true,
			PQCAvailable:        true,
			AlgorithmsSupported: []string{"ML-KEM-768", "ML-DSA-65"},
			PerformanceMetrics:  metricsSince(start),
		}
	case "generate_session_key":
		return e.generateSessionKey(params, start)
	case "sign_token":
		return e.signToken(params, start)
	case "verify_token":
		return e.verifyToken(params, start)
	}

	return &response{Success: false, ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation)}
}

func (e *engine) generateSessionKey(params map[string]any, start time.Time) *response {
	userID, ok := params["user_id"].(string)
	if !ok || userID == "" {
		return fail("user_id parameter required")
	}
	if !validToken(userID) {
		return fail("Invalid subject token")
	}

	keypair, err := e.keys.kemKeypair(userID)
	if err != nil {
		return fail(fmt.Sprintf("Key generation failed: %v", err))
	}

	var sharedSecret, kemCiphertext []byte
	if ctHex, ok := params["ciphertext"].(string); ok && ctHex != "" {
		kemCiphertext, err = hex.DecodeString(ctHex)
		if err != nil {
			return fail(fmt.Sprintf("Deserialization error: %v", err))
		}
		sharedSecret, err = keypair.Decapsulate(kemCiphertext)
		if err != nil {
			return fail(fmt.Sprintf("Decapsulation failed: %v", err))
		}
	} else {
		sharedSecret, kemCiphertext, err = crypto.Encapsulate(keypair.PublicKey)
		if err != nil {
			return fail(fmt.Sprintf("Encapsulation failed: %v", err))
		}
	}

	now := time.Now().UTC()
	pubHash := sha256.Sum256(keypair.PublicKey)
	sessionID := sha256.Sum256(fmt.Appendf(nil, "%s:%x:%d", userID, sharedSecret, now.UnixNano()))

	return &response{
		Success: true,
		UserID:  userID,
		SessionData: &sessionData{
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
	}
}

func (e *engine) signToken(params map[string]any, start time.Time) *response {
	userID, _ := params["user_id"].(string)
	payload, _ := params["payload"].(map[string]any)
	if userID == "" || payload == nil {
		return fail("user_id and payload parameters required")
	}
	if !validToken(userID) {
		return fail("Invalid subject token")
	}

	keypair, err := e.keys.signingKeypair(userID)
	if err != nil {
		return fail(fmt.Sprintf("Key generation failed: %v", err))
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Sprintf("Serialization error: %v", err))
	}
	sig, err := keypair.Sign(payloadBytes)
	if err != nil {
		return fail(fmt.Sprintf("FFI operation failed: sign - %v", err))
	}

	pubHash := sha256.Sum256(keypair.PublicKey)
	token, err := json.Marshal(signedToken{
		Payload:       payload,
		Signature:     hex.EncodeToString(sig),
		Algorithm:     "ML-DSA-65",
		PublicKeyHash: hex.EncodeToString(pubHash[:])[:16],
	})
	if err != nil {
		return fail(fmt.Sprintf("Serialization error: %v", err))
	}

	return &response{
		Success:            true,
		UserID:             userID,
		Token:              string(token),
		Algorithm:          "ML-DSA-65",
		PerformanceMetrics: metricsSince(start),
	}
}

func (e *engine) verifyToken(params map[string]any, start time.Time) *response {
	userID, _ := params["user_id"].(string)
	tokenStr, _ := params["token"].(string)
	if userID == "" || tokenStr == "" {
		return fail("token and user_id parameters required")
	}
	if !validToken(userID) {
		return fail("Invalid subject token")
	}

	var token signedToken
	if err := json.Unmarshal([]byte(tokenStr), &token); err != nil {
		return fail(fmt.Sprintf("Invalid token format: %v", err))
	}
	if token.Algorithm != "ML-DSA-65" {
		return fail(fmt.Sprintf("Unsupported algorithm: %s", token.Algorithm))
	}

	keypair, err := e.keys.loadSigningKeypair(userID)
	if err != nil {
		return fail(fmt.Sprintf("Key not found: %s", userID))
	}

	payloadBytes, err := json.Marshal(token.Payload)
	if err != nil {
		return fail(fmt.Sprintf("Serialization error: %v", err))
	}
	sig, err := hex.DecodeString(token.Signature)
	if err != nil {
		return fail(fmt.Sprintf("Deserialization error: %v", err))
	}

	if err := crypto.Verify(keypair.PublicKey, payloadBytes, sig); err != nil {
		if errors.Is(err, crypto.ErrSignatureVerificationFailed) {
			return fail("Signature verification failed")
		}
		return fail(fmt.Sprintf("Invalid key format: %v", err))
	}

	return &response{
		Success:            true,
		UserID:             userID,
		Algorithm:          "ML-DSA-65",
		PerformanceMetrics: metricsSince(start),
	}
}

// validToken guards the key store paths: subject tokens are exactly 32
// lowercase hex characters and never contain path separators.
func validToken(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func fail(msg string) *response {
	return &response{Success: false, ErrorMessage: msg}
}

func metricsSince(start time.Time) *perfMetrics {
	return &perfMetrics{DurationMS: float64(time.Since(start).Microseconds()) / 1000.0}
}
