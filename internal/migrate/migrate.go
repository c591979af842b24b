// Package migrate rewrites tracked records from plaintext placeholders to
// per-field encryption envelopes, and back. Each record is rewritten in a
// single store update after all of its fields encrypted, so a failure mid
// record leaves it untouched; the prior plaintext rides along in the record
// until rollback is no longer wanted.
package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/minkalla/hybridcrypto/internal/envelope"
	"github.com/minkalla/hybridcrypto/internal/fieldcodec"
	"github.com/minkalla/hybridcrypto/internal/hybrid"
	"github.com/minkalla/hybridcrypto/internal/logger"
	"github.com/minkalla/hybridcrypto/internal/store"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

// DefaultWorkers is the default migration concurrency.
const DefaultWorkers = 4

// Config tunes a migration run.
type Config struct {
	// Workers bounds how many records migrate concurrently. Zero means
	// DefaultWorkers.
	Workers int
	// RatePerSecond paces record starts to avoid saturating the engine.
	// Zero means unpaced.
	RatePerSecond float64
	// HaltOnError stops scheduling new records after the first failure.
	// The default is to continue past failures and report them.
	HaltOnError bool
}

// RecordError ties a failure to the record it occurred on.
type RecordError struct {
	RecordID string
	Err      error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.RecordID, e.Err)
}

// Unwrap returns the underlying error.
func (e RecordError) Unwrap() error {
	return e.Err
}

// Report summarizes one migration or rollback run.
type Report struct {
	// Scanned is how many candidate records the run considered.
	Scanned int
	// Migrated is how many records were rewritten.
	Migrated int
	// Degraded is how many rewritten records carry at least one
	// classical-family envelope.
	Degraded int
	// Failed is how many records could not be rewritten.
	Failed int
	// Errors holds one entry per failed record.
	Errors []RecordError
	// Started and Finished bound the run.
	Started  time.Time
	Finished time.Time
}

// Engine drives bulk and per-record migration against a RecordStore.
type Engine struct {
	store store.RecordStore
	codec *fieldcodec.Codec
	orch  *hybrid.Orchestrator
	sink  telemetry.Sink
	cfg   Config
	now   func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTelemetrySink routes migration events to sink.
func WithTelemetrySink(sink telemetry.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a migration engine.
func NewEngine(recs store.RecordStore, orch *hybrid.Orchestrator, cfg Config, opts ...EngineOption) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	e := &Engine{
		store: recs,
		codec: fieldcodec.New(orch),
		orch:  orch,
		sink:  telemetry.NopSink{},
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MigrateAll encrypts every placeholder record. Failures on individual
// records are collected and do not stop the run unless HaltOnError is set.
func (e *Engine) MigrateAll(ctx context.Context) (*Report, error) {
	records, err := e.store.ListByVersion(ctx, store.VersionPlaceholder)
	if err != nil {
		return nil, fmt.Errorf("scan placeholder records: %w", err)
	}

	report := e.run(ctx, records, e.migrateRecord)

	e.sink.Emit(telemetry.Event{
		Type:      telemetry.EventMigrationCompleted,
		Timestamp: e.now().UTC(),
		Count:     report.Migrated,
		Duration:  report.Finished.Sub(report.Started),
	})
	logger.Logger.Info().
		Int("scanned", report.Scanned).
		Int("migrated", report.Migrated).
		Int("degraded", report.Degraded).
		Int("failed", report.Failed).
		Msg("migration run finished")

	return report, nil
}

// RollbackAll restores every migrated record that still carries its prior
// plaintext.
func (e *Engine) RollbackAll(ctx context.Context) (*Report, error) {
	all, err := e.store.ListByVersion(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	var candidates []*store.Record
	for _, rec := range all {
		if rec.CryptoVersion != store.VersionPlaceholder && rec.PriorFields != nil {
			candidates = append(candidates, rec)
		}
	}

	report := e.run(ctx, candidates, e.rollbackRecord)

	e.sink.Emit(telemetry.Event{
		Type:      telemetry.EventMigrationRolledBack,
		Timestamp: e.now().UTC(),
		Count:     report.Migrated,
		Duration:  report.Finished.Sub(report.Started),
	})
	logger.Logger.Info().
		Int("scanned", report.Scanned).
		Int("restored", report.Migrated).
		Int("failed", report.Failed).
		Msg("rollback run finished")

	return report, nil
}

// MigrateRecord migrates a single record by id.
func (e *Engine) MigrateRecord(ctx context.Context, id string) error {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.CryptoVersion != store.VersionPlaceholder {
		return fmt.Errorf("record %s is not a placeholder (version %q)", id, rec.CryptoVersion)
	}
	_, err = e.migrateRecord(ctx, rec)
	return err
}

// RollbackRecord restores a single record by id.
func (e *Engine) RollbackRecord(ctx context.Context, id string) error {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.PriorFields == nil {
		return fmt.Errorf("record %s has no prior fields to restore", id)
	}
	_, err = e.rollbackRecord(ctx, rec)
	return err
}

// run drives the worker pool over records, pacing starts with the configured
// rate limit and collecting per-record outcomes.
func (e *Engine) run(ctx context.Context, records []*store.Record, step func(context.Context, *store.Record) (bool, error)) *Report {
	report := &Report{Scanned: len(records), Started: e.now()}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if e.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RatePerSecond), 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan *store.Record)
	)
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := limiter.Wait(runCtx); err != nil {
					return
				}
				degraded, err := step(runCtx, rec)

				mu.Lock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, RecordError{RecordID: rec.ID, Err: err})
					if e.cfg.HaltOnError {
						cancel()
					}
				} else {
					report.Migrated++
					if degraded {
						report.Degraded++
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, rec := range records {
		select {
		case <-runCtx.Done():
			break feed
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	report.Finished = e.now()
	return report
}

// migrateRecord provisions key material, encrypts every field, and rewrites
// the record in one update. It reports whether the record ended up degraded.
func (e *Engine) migrateRecord(ctx context.Context, rec *store.Record) (bool, error) {
	keyRef := rec.SubjectID

	pair, err := e.orch.GenerateKeyPairWithFallback(ctx, keyRef)
	if err != nil {
		return false, fmt.Errorf("generate key material: %w", err)
	}
	envs, err := e.codec.EncryptFields(ctx, rec.Fields, keyRef)
	if err != nil {
		return false, fmt.Errorf("encrypt fields: %w", err)
	}

	degraded := pair.FallbackUsed || fieldcodec.AnyDegraded(envs)

	rec.PriorFields = rec.Fields
	rec.Fields = nil
	rec.Envelopes = envs
	rec.KeyRef = keyRef
	rec.BackupCryptoVersion = rec.CryptoVersion
	rec.MigrationDate = e.now().UTC()
	if degraded {
		// The record-level tag reflects the weakest family present.
		rec.CryptoVersion = store.VersionClassical
		rec.CryptoAlgorithm = envelope.AlgRSAOAEPAESGCM
	} else {
		rec.CryptoVersion = store.VersionPQC
		rec.CryptoAlgorithm = envelope.AlgMLKEM768AESGCM
	}

	if err := e.store.Update(ctx, rec); err != nil {
		return false, fmt.Errorf("persist record: %w", err)
	}
	return degraded, nil
}

// rollbackRecord restores the prior plaintext fields and clears the crypto
// state, including the backup version and migration date. The degraded flag
// is meaningless on this path and always false.
func (e *Engine) rollbackRecord(ctx context.Context, rec *store.Record) (bool, error) {
	restored := rec.BackupCryptoVersion
	if restored == "" {
		restored = store.VersionPlaceholder
	}

	rec.Fields = rec.PriorFields
	rec.PriorFields = nil
	rec.Envelopes = nil
	rec.CryptoVersion = restored
	rec.BackupCryptoVersion = ""
	rec.CryptoAlgorithm = ""
	rec.MigrationDate = time.Time{}

	if err := e.store.Update(ctx, rec); err != nil {
		return false, fmt.Errorf("persist record: %w", err)
	}
	return false, nil
}
