// Package fieldcodec maps between plaintext record fields and per-field
// encryption envelopes. Each field value is serialized as JSON and encrypted
// independently, so records can mix primary and degraded envelopes and a
// single field can be rotated without touching its siblings.
package fieldcodec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/minkalla/hybridcrypto/internal/envelope"
	"github.com/minkalla/hybridcrypto/internal/hybrid"
)

// Codec encrypts and decrypts field maps through a hybrid orchestrator.
type Codec struct {
	orch *hybrid.Orchestrator
}

// New creates a Codec over the given orchestrator.
func New(orch *hybrid.Orchestrator) *Codec {
	return &Codec{orch: orch}
}

// EncryptFields encrypts every field value under keyRef and returns the
// resulting envelopes keyed by field name. Fields are processed in sorted
// name order so engine traffic and telemetry are deterministic. The first
// failing field aborts the call.
func (c *Codec) EncryptFields(ctx context.Context, fields map[string]any, keyRef string) (map[string]*envelope.Encryption, error) {
	out := make(map[string]*envelope.Encryption, len(fields))
	for _, name := range sortedNames(fields) {
		raw, err := json.Marshal(fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: encode: %w", name, err)
		}
		env, err := c.orch.EncryptWithFallback(ctx, raw, keyRef)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = env
	}
	return out, nil
}

// DecryptFields decrypts every envelope under keyRef and returns the
// plaintext field values keyed by field name. The first failing field aborts
// the call; a partially decrypted record is never returned.
func (c *Codec) DecryptFields(ctx context.Context, envs map[string]*envelope.Encryption, keyRef string) (map[string]any, error) {
	out := make(map[string]any, len(envs))
	for _, name := range sortedEnvNames(envs) {
		raw, err := c.orch.DecryptWithFallback(ctx, envs[name], keyRef)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("field %q: decode: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

// AnyDegraded reports whether any envelope in the set was produced by the
// classical fallback.
func AnyDegraded(envs map[string]*envelope.Encryption) bool {
	for _, env := range envs {
		if env.IsDegraded {
			return true
		}
	}
	return false
}

func sortedNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedEnvNames(envs map[string]*envelope.Encryption) []string {
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
