package breaker

import (
	"context"
	"sync"
	"time"
)

// Well-known circuit names, one per operation class.
const (
	CircuitEncryption    = "encryption"
	CircuitSigning       = "signing"
	CircuitKeyGeneration = "key-generation"
)

// DefaultResetTimeout is the default open-circuit probe delay.
const DefaultResetTimeout = 30 * time.Second

// DefaultConfigs returns the per-class default circuit configs. Key
// generation tolerates fewer consecutive failures than encryption because the
// cost of handing out bad key material is higher.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		CircuitEncryption:    {FailureThreshold: 5, ResetTimeout: DefaultResetTimeout},
		CircuitSigning:       {FailureThreshold: 3, ResetTimeout: DefaultResetTimeout},
		CircuitKeyGeneration: {FailureThreshold: 2, ResetTimeout: DefaultResetTimeout},
	}
}

// Registry owns the named circuits of one process. It is constructed once at
// startup and injected into every caller; there is no ambient global state.
type Registry struct {
	clock        func() time.Time
	onTransition func(name string, from, to State)
	defaultCfg   Config
	configs      map[string]Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry clock, for tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithTransitionHook registers a callback invoked on every state change of
// any circuit in the registry.
func WithTransitionHook(fn func(name string, from, to State)) RegistryOption {
	return func(r *Registry) {
		r.onTransition = fn
	}
}

// WithConfig overrides the config for one named circuit.
func WithConfig(name string, cfg Config) RegistryOption {
	return func(r *Registry) {
		r.configs[name] = cfg
	}
}

// WithShouldTrip installs a shared trip predicate on every circuit config
// that does not define its own.
func WithShouldTrip(fn func(error) bool) RegistryOption {
	return func(r *Registry) {
		if r.defaultCfg.ShouldTrip == nil {
			r.defaultCfg.ShouldTrip = fn
		}
		for name, cfg := range r.configs {
			if cfg.ShouldTrip == nil {
				cfg.ShouldTrip = fn
				r.configs[name] = cfg
			}
		}
	}
}

// NewRegistry creates a registry seeded with the per-class default configs.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:      time.Now,
		defaultCfg: Config{FailureThreshold: 5, ResetTimeout: DefaultResetTimeout},
		configs:    DefaultConfigs(),
		breakers:   make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the circuit with the given name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaultCfg
	}
	b := New(name, cfg, r.clock, r.onTransition)
	r.breakers[name] = b
	return b
}

// Execute runs op under the named circuit. If the circuit rejects the request
// or op ultimately fails and a fallback is supplied, the fallback runs and
// its result is returned instead of the failure.
func (r *Registry) Execute(ctx context.Context, name string, op func(context.Context) error, fallback func(context.Context, error) error) error {
	err := r.Get(name).Do(ctx, op)
	if err == nil {
		return nil
	}
	if fallback != nil {
		return fallback(ctx, err)
	}
	return err
}

// Reset forces the named circuit closed with zero counters.
func (r *Registry) Reset(name string) {
	r.Get(name).Reset()
}

// Snapshots returns a point-in-time view of every circuit created so far.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// AnyOpen reports whether any circuit is currently open or half-open.
func (r *Registry) AnyOpen() bool {
	for _, s := range r.Snapshots() {
		if s.State != StateClosed {
			return true
		}
	}
	return false
}
