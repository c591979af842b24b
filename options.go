package hybridcrypto

import (
	"time"

	"github.com/minkalla/hybridcrypto/internal/breaker"
	"github.com/minkalla/hybridcrypto/internal/engine"
	"github.com/minkalla/hybridcrypto/internal/migrate"
	"github.com/minkalla/hybridcrypto/internal/store"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

// EngineClient executes a single engine operation. Supply a custom
// implementation to run against an embedded or remote engine instead of a
// subprocess.
type EngineClient = engine.Client

// EngineResponse is the engine's reply to one request.
type EngineResponse = engine.Response

// RecordStore is the persistence contract migration runs against.
type RecordStore = store.RecordStore

// Record is one subject's tracked state.
type Record = store.Record

// Record crypto versions.
const (
	VersionPlaceholder = store.VersionPlaceholder
	VersionClassical   = store.VersionClassical
	VersionPQC         = store.VersionPQC
)

// MigrationConfig tunes bulk migration runs.
type MigrationConfig = migrate.Config

// MigrationReport summarizes one migration or rollback run.
type MigrationReport = migrate.Report

// CircuitState is a circuit-breaker state.
type CircuitState = breaker.State

// Circuit states.
const (
	CircuitClosed   = breaker.StateClosed
	CircuitOpen     = breaker.StateOpen
	CircuitHalfOpen = breaker.StateHalfOpen
)

// CircuitSnapshot is a point-in-time view of one circuit.
type CircuitSnapshot = breaker.Snapshot

// Well-known circuit names, one per operation class.
const (
	CircuitEncryption    = breaker.CircuitEncryption
	CircuitSigning       = breaker.CircuitSigning
	CircuitKeyGeneration = breaker.CircuitKeyGeneration
)

const defaultEngineCommand = "qsengine"

// serviceConfig holds configuration for the service.
type serviceConfig struct {
	engineClient  engine.Client
	engineCommand string
	engineArgs    []string
	callTimeout   time.Duration
	retry         *engine.RetryConfig

	circuitThresholds map[string]uint32
	resetTimeout      time.Duration

	sinks     []telemetry.Sink
	records   store.RecordStore
	migration migrate.Config
	clock     func() time.Time
}

// Option configures the service.
type Option func(*serviceConfig)

// WithEngineClient sets a custom engine transport. It takes precedence over
// WithEngineCommand.
func WithEngineClient(client EngineClient) Option {
	return func(c *serviceConfig) {
		c.engineClient = client
	}
}

// WithEngineCommand sets the engine executable spawned per call, with any
// fixed arguments placed before the operation.
func WithEngineCommand(command string, args ...string) Option {
	return func(c *serviceConfig) {
		c.engineCommand = command
		c.engineArgs = args
	}
}

// WithCallTimeout bounds a single engine attempt.
// Default: 10 seconds
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *serviceConfig) {
		c.callTimeout = timeout
	}
}

// WithRetries sets how many times a transient engine failure is retried
// within one logical call. Retries never multiply circuit-breaker failure
// counts.
// Default: 2
func WithRetries(count int) Option {
	return func(c *serviceConfig) {
		c.retry.MaxRetries = count
	}
}

// WithRetryBaseDelay sets the first retry backoff.
// Default: 100ms
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *serviceConfig) {
		c.retry.BaseDelay = delay
	}
}

// WithCircuitThreshold overrides the consecutive-failure trip point for one
// named circuit.
// Defaults: encryption 5, signing 3, key-generation 2
func WithCircuitThreshold(name string, threshold uint32) Option {
	return func(c *serviceConfig) {
		c.circuitThresholds[name] = threshold
	}
}

// WithResetTimeout sets how long an open circuit waits before allowing a
// probe, for every circuit.
// Default: 30 seconds
func WithResetTimeout(timeout time.Duration) Option {
	return func(c *serviceConfig) {
		c.resetTimeout = timeout
	}
}

// WithTelemetrySink adds a sink that receives every telemetry event. May be
// given multiple times.
func WithTelemetrySink(sink TelemetrySink) Option {
	return func(c *serviceConfig) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithRecordStore sets the record store migration runs against.
// Default: an in-memory store
func WithRecordStore(records RecordStore) Option {
	return func(c *serviceConfig) {
		c.records = records
	}
}

// WithMigrationConfig tunes bulk migration runs.
func WithMigrationConfig(cfg MigrationConfig) Option {
	return func(c *serviceConfig) {
		c.migration = cfg
	}
}

// withClock overrides the service clock, for tests.
func withClock(now func() time.Time) Option {
	return func(c *serviceConfig) {
		c.clock = now
	}
}
