package engine

import (
	"context"
	"regexp"
	"time"

	"github.com/minkalla/hybridcrypto/internal/identity"
	"github.com/minkalla/hybridcrypto/internal/logger"
)

// subjectTokenLength is the expected length of subject identifiers forwarded
// to the engine. Subjects cross the bridge only as CryptoIdentity tokens.
const subjectTokenLength = identity.TokenLength

// DefaultCallTimeout bounds a single engine attempt. A hung engine process
// must not hang the caller.
const DefaultCallTimeout = 10 * time.Second

var operationPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var allowedOperations = map[string]struct{}{
	OpGenerateSessionKey: {},
	OpSignToken:          {},
	OpVerifyToken:        {},
	OpGetStatus:          {},
	OpHandshake:          {},
}

// Bridge validates engine requests and forwards them through a Client with
// retry. It owns no cryptography and no business logic.
type Bridge struct {
	client      Client
	retry       *RetryConfig
	callTimeout time.Duration
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithRetry overrides the bridge retry policy.
func WithRetry(cfg *RetryConfig) BridgeOption {
	return func(b *Bridge) {
		b.retry = cfg
	}
}

// WithCallTimeout bounds each individual engine attempt.
func WithCallTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.callTimeout = d
	}
}

// NewBridge creates a bridge over the given transport client.
func NewBridge(client Client, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		client:      client,
		retry:       DefaultRetryConfig(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call validates the request and forwards it to the engine, retrying
// transient failures with capped exponential backoff. Validation errors
// surface immediately and are never retried.
func (b *Bridge) Call(ctx context.Context, operation string, params Params) (*Response, error) {
	if err := validateOperation(operation); err != nil {
		return nil, err
	}
	if err := validateSubject(params); err != nil {
		return nil, err
	}

	var lastErr *CallError
	for attempt := 0; ; attempt++ {
		resp, err := b.attempt(ctx, operation, params)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !err.Class.Retryable || attempt >= b.retry.MaxRetries {
			break
		}

		logger.Logger.Debug().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Str("code", err.Class.Code).
			Msg("retrying engine call")

		if waitErr := b.retry.Wait(ctx, attempt); waitErr != nil {
			break
		}
	}

	logger.Logger.Warn().
		Str("operation", operation).
		Str("category", string(lastErr.Class.Category)).
		Str("severity", string(lastErr.Class.Severity)).
		Msg("engine call failed")

	return nil, lastErr
}

// attempt performs one bounded engine call and normalizes its outcome.
func (b *Bridge) attempt(ctx context.Context, operation string, params Params) (*Response, *CallError) {
	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	resp, err := b.client.Call(callCtx, operation, params)
	if err != nil {
		return nil, newCallError(operation, err.Error(), err)
	}
	if resp == nil {
		return nil, newCallError(operation, "malformed engine response", ErrMalformedResponse)
	}
	if !resp.Success {
		return nil, newCallError(operation, resp.ErrorMessage, nil)
	}
	return resp, nil
}

// FallbackOperation builds the degraded response substituted when the engine
// transport is down. It is exported deliberately so tests can exercise the
// degraded path without reaching through the transport.
func (b *Bridge) FallbackOperation(operation string, cause error) *Response {
	msg := "engine not available"
	if cause != nil {
		msg = cause.Error()
	}
	return &Response{
		Success:             false,
		ErrorMessage:        msg,
		AlgorithmsSupported: []string{"Classical"},
	}
}

func validateOperation(operation string) error {
	if !operationPattern.MatchString(operation) {
		return &InvalidOperationError{Operation: operation, Reason: "operation contains forbidden characters"}
	}
	if _, ok := allowedOperations[operation]; !ok {
		return &InvalidOperationError{Operation: operation, Reason: "operation not in allow-list"}
	}
	return nil
}

func validateSubject(params Params) error {
	raw, ok := params["user_id"]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok || !identity.Valid(s) {
		length := 0
		if ok {
			length = len(s)
		}
		return &InvalidSubjectError{Length: length}
	}
	return nil
}
