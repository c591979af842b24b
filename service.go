package hybridcrypto

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/minkalla/hybridcrypto/internal/breaker"
	"github.com/minkalla/hybridcrypto/internal/engine"
	"github.com/minkalla/hybridcrypto/internal/errclass"
	"github.com/minkalla/hybridcrypto/internal/fieldcodec"
	"github.com/minkalla/hybridcrypto/internal/hybrid"
	"github.com/minkalla/hybridcrypto/internal/logger"
	"github.com/minkalla/hybridcrypto/internal/migrate"
	"github.com/minkalla/hybridcrypto/internal/store"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

// Service is the entry point of the hybrid cryptographic core. It owns the
// circuit breakers, the engine bridge, the classical fallback, and the
// migration engine. A Service is safe for concurrent use.
type Service struct {
	breakers    *breaker.Registry
	orch        *hybrid.Orchestrator
	codec       *fieldcodec.Codec
	records     store.RecordStore
	migrator    *migrate.Engine
	broadcaster *telemetry.Broadcaster
	closed      atomic.Bool
}

// HealthStatus is a point-in-time view of the core's health.
type HealthStatus struct {
	// EngineHealthy reports whether the engine answered a status probe.
	EngineHealthy bool
	// PQCAvailable reports whether the engine advertises its quantum-safe
	// suite.
	PQCAvailable bool
	// ClassicalHealthy reports whether the classical fallback can serve
	// calls.
	ClassicalHealthy bool
	// FallbackActive reports whether any circuit is open or probing, meaning
	// new operations may be served classically.
	FallbackActive bool
	// Circuits holds a snapshot of every circuit created so far.
	Circuits []CircuitSnapshot
}

// New creates a Service. With no options it spawns the default engine
// executable per call and keeps records in memory.
func New(opts ...Option) (*Service, error) {
	cfg := serviceConfig{
		engineCommand:     defaultEngineCommand,
		callTimeout:       engine.DefaultCallTimeout,
		retry:             engine.DefaultRetryConfig(),
		circuitThresholds: make(map[string]uint32),
		resetTimeout:      breaker.DefaultResetTimeout,
		migration:         migrate.Config{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.engineClient
	if client == nil {
		client = engine.NewProcessClient(cfg.engineCommand, cfg.engineArgs...)
	}
	bridge := engine.NewBridge(client,
		engine.WithRetry(cfg.retry),
		engine.WithCallTimeout(cfg.callTimeout),
	)

	broadcaster := telemetry.NewBroadcaster()
	sink := multiSink(append(cfg.sinks, broadcaster))

	clock := cfg.clock
	if clock == nil {
		clock = time.Now
	}

	regOpts := []breaker.RegistryOption{
		breaker.WithClock(clock),
		breaker.WithTransitionHook(circuitTransitionHook(sink, clock)),
	}
	for name, bc := range breaker.DefaultConfigs() {
		if threshold, ok := cfg.circuitThresholds[name]; ok {
			bc.FailureThreshold = threshold
		}
		bc.ResetTimeout = cfg.resetTimeout
		regOpts = append(regOpts, breaker.WithConfig(name, bc))
	}
	regOpts = append(regOpts, breaker.WithShouldTrip(func(err error) bool {
		return errclass.Classify(err).CountsTowardBreaker
	}))
	registry := breaker.NewRegistry(regOpts...)

	orch := hybrid.New(registry, bridge,
		hybrid.WithTelemetrySink(sink),
		hybrid.WithClock(clock),
	)

	records := cfg.records
	if records == nil {
		records = store.NewMemoryStore()
	}
	migrator := migrate.NewEngine(records, orch, cfg.migration,
		migrate.WithTelemetrySink(sink),
		migrate.WithClock(clock),
	)

	return &Service{
		breakers:    registry,
		orch:        orch,
		codec:       fieldcodec.New(orch),
		records:     records,
		migrator:    migrator,
		broadcaster: broadcaster,
	}, nil
}

// Encrypt encrypts plaintext for keyRef and returns a self-describing
// envelope. The primary quantum-safe path is tried first; on failure or an
// open circuit the classical fallback serves the call and the envelope is
// marked degraded.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte, keyRef string) (*EncryptionEnvelope, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.orch.EncryptWithFallback(ctx, plaintext, keyRef)
}

// Decrypt decrypts an envelope. The path is selected by the envelope's
// algorithm tag alone; failures are final and never re-routed to the other
// family.
func (s *Service) Decrypt(ctx context.Context, env *EncryptionEnvelope, keyRef string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.orch.DecryptWithFallback(ctx, env, keyRef)
}

// Sign signs message for keyRef and returns a signature envelope.
func (s *Service) Sign(ctx context.Context, message []byte, keyRef string) (*SignatureEnvelope, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.orch.SignWithFallback(ctx, message, keyRef)
}

// Verify checks a signature envelope against message. It returns (false,
// nil) for a well-formed signature that does not verify; a non-nil error
// means verification could not be carried out.
func (s *Service) Verify(ctx context.Context, env *SignatureEnvelope, message []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrServiceClosed
	}
	return s.orch.VerifyWithFallback(ctx, env, message)
}

// GenerateKeyPair provisions key material for keyRef. Primary-family private
// keys never leave the engine; on fallback a classical keypair is returned
// in full.
func (s *Service) GenerateKeyPair(ctx context.Context, keyRef string) (*KeyPair, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.orch.GenerateKeyPairWithFallback(ctx, keyRef)
}

// EncryptFields encrypts every field value under keyRef, one envelope per
// field.
func (s *Service) EncryptFields(ctx context.Context, fields map[string]any, keyRef string) (map[string]*EncryptionEnvelope, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.codec.EncryptFields(ctx, fields, keyRef)
}

// DecryptFields decrypts a map of per-field envelopes under keyRef.
func (s *Service) DecryptFields(ctx context.Context, envs map[string]*EncryptionEnvelope, keyRef string) (map[string]any, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.codec.DecryptFields(ctx, envs, keyRef)
}

// MigrateAll encrypts every placeholder record in the store. Individual
// record failures are reported, not fatal, unless the migration config says
// otherwise.
func (s *Service) MigrateAll(ctx context.Context) (*MigrationReport, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.migrator.MigrateAll(ctx)
}

// RollbackAll restores every migrated record that still carries its prior
// plaintext.
func (s *Service) RollbackAll(ctx context.Context) (*MigrationReport, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	return s.migrator.RollbackAll(ctx)
}

// MigrateRecord migrates a single record by id.
func (s *Service) MigrateRecord(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	return s.migrator.MigrateRecord(ctx, id)
}

// RollbackRecord restores a single record by id.
func (s *Service) RollbackRecord(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	return s.migrator.RollbackRecord(ctx, id)
}

// Records exposes the record store the service migrates against.
func (s *Service) Records() RecordStore {
	return s.records
}

// Health probes the engine, the classical provider, and every circuit.
func (s *Service) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		ClassicalHealthy: s.orch.ClassicalReady(),
		FallbackActive:   s.breakers.AnyOpen(),
		Circuits:         s.breakers.Snapshots(),
	}
	if resp, err := s.orch.EngineStatus(ctx); err == nil {
		status.EngineHealthy = true
		status.PQCAvailable = resp.PQCAvailable
	}
	return status
}

// ResetCircuit forces the named circuit closed with zero counters.
func (s *Service) ResetCircuit(name string) {
	s.breakers.Reset(name)
}

// CircuitSnapshots returns a point-in-time view of every circuit.
func (s *Service) CircuitSnapshots() []CircuitSnapshot {
	return s.breakers.Snapshots()
}

// Subscribe registers a callback for telemetry events of the given types;
// with no types it receives every event. The returned function unsubscribes.
func (s *Service) Subscribe(callback func(TelemetryEvent), types ...TelemetryEventType) func() {
	return s.broadcaster.Subscribe(callback, types...)
}

// Close releases the service. Subsequent operations return ErrServiceClosed.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.broadcaster.Clear()
	return nil
}

// multiSink fans one event out to several sinks.
type multiSink []telemetry.Sink

// Emit implements telemetry.Sink.
func (m multiSink) Emit(e telemetry.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// circuitTransitionHook emits a telemetry event and a log line on every
// circuit state change.
func circuitTransitionHook(sink telemetry.Sink, clock func() time.Time) func(name string, from, to breaker.State) {
	return func(name string, from, to breaker.State) {
		var evType telemetry.EventType
		switch to {
		case breaker.StateOpen:
			evType = telemetry.EventCircuitOpened
		case breaker.StateHalfOpen:
			evType = telemetry.EventCircuitHalfOpen
		case breaker.StateClosed:
			evType = telemetry.EventCircuitClosed
		default:
			return
		}

		sink.Emit(telemetry.Event{
			Type:      evType,
			Timestamp: clock().UTC(),
			Circuit:   name,
			Reason:    string(from),
		})

		ev := logger.Logger.Info()
		if to == breaker.StateOpen {
			ev = logger.Logger.Warn()
		}
		ev.Str("circuit", name).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("circuit state change")
	}
}
