// Package engine contains the validated bridge to the external quantum-safe
// cryptographic engine. The bridge performs no cryptography itself; it is a
// single-purpose RPC client with input validation, bounded timeouts, and
// classified failures. The Client interface abstracts the transport so the
// orchestrator never depends on process details.
package engine

import "context"

// Engine operations. Call rejects anything outside this allow-list.
const (
	OpGenerateSessionKey = "generate_session_key"
	OpSignToken          = "sign_token"
	OpVerifyToken        = "verify_token"
	OpGetStatus          = "get_status"
	OpHandshake          = "handshake"
)

// Params is the free-form parameter map forwarded to the engine.
type Params map[string]any

// SessionData is the engine's session-key material for one subject.
type SessionData struct {
	// UserID is the subject token the session was created for.
	UserID string `json:"user_id"`
	// SessionID uniquely identifies the session.
	SessionID string `json:"session_id"`
	// SharedSecret is the hex-encoded KEM shared secret.
	SharedSecret string `json:"shared_secret"`
	// Ciphertext is the hex-encoded KEM ciphertext (encapsulated key).
	Ciphertext string `json:"ciphertext"`
	// Algorithm names the KEM that produced the session, e.g. "ML-KEM-768".
	Algorithm string `json:"algorithm"`
	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string `json:"created_at"`
	// ExpiresAt is the ISO 8601 expiry timestamp.
	ExpiresAt string `json:"expires_at"`
	// PublicKeyHash is a short fingerprint of the subject's KEM public key.
	PublicKeyHash string `json:"public_key_hash"`
}

// PerformanceMetrics carries the engine-side timing of one call.
type PerformanceMetrics struct {
	DurationMS float64 `json:"duration_ms"`
}

// Response is the engine's reply to one request. A response with Success ==
// false always carries ErrorMessage; it is never treated as partial data.
type Response struct {
	Success             bool                `json:"success"`
	UserID              string              `json:"user_id,omitempty"`
	SessionData         *SessionData        `json:"session_data,omitempty"`
	Token               string              `json:"token,omitempty"`
	Algorithm           string              `json:"algorithm,omitempty"`
	PQCAvailable        bool                `json:"pqc_available,omitempty"`
	AlgorithmsSupported []string            `json:"algorithms_supported,omitempty"`
	ProtocolVersion     string              `json:"protocol_version,omitempty"`
	ErrorMessage        string              `json:"error_message,omitempty"`
	PerformanceMetrics  *PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// Client executes a single engine operation. Implementations must honor ctx
// cancellation, including terminating any underlying process, and must return
// an error rather than a partial response.
type Client interface {
	Call(ctx context.Context, operation string, params Params) (*Response, error)
}

// SignedToken is the wire format of a primary-family signature token.
type SignedToken struct {
	// Payload is the signed claims object.
	Payload map[string]any `json:"payload"`
	// Signature is the hex-encoded ML-DSA-65 signature over the
	// deterministic JSON encoding of Payload.
	Signature string `json:"signature"`
	// Algorithm names the signature algorithm, e.g. "ML-DSA-65".
	Algorithm string `json:"algorithm"`
	// PublicKeyHash is a short fingerprint of the signing public key.
	PublicKeyHash string `json:"public_key_hash"`
}
