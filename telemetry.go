package hybridcrypto

import (
	"github.com/minkalla/hybridcrypto/internal/logger"
	"github.com/minkalla/hybridcrypto/internal/telemetry"
)

// TelemetryEventType identifies a telemetry event.
type TelemetryEventType = telemetry.EventType

// Telemetry event types.
const (
	EventCryptoFallbackUsed  = telemetry.EventCryptoFallbackUsed
	EventCircuitOpened       = telemetry.EventCircuitOpened
	EventCircuitHalfOpen     = telemetry.EventCircuitHalfOpen
	EventCircuitClosed       = telemetry.EventCircuitClosed
	EventMigrationCompleted  = telemetry.EventMigrationCompleted
	EventMigrationRolledBack = telemetry.EventMigrationRolledBack
)

// TelemetryEvent is a single append-only telemetry record.
type TelemetryEvent = telemetry.Event

// TelemetrySink consumes telemetry events.
type TelemetrySink = telemetry.Sink

// MemorySink retains events in memory, for tests and in-process inspection.
type MemorySink = telemetry.MemorySink

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return telemetry.NewMemorySink()
}

// LogSink writes every telemetry event to the structured log.
type LogSink struct{}

// Emit implements TelemetrySink.
func (LogSink) Emit(e TelemetryEvent) {
	logger.Logger.Info().
		Str("eventType", string(e.Type)).
		Str("operation", e.Operation).
		Str("algorithm", e.Algorithm).
		Str("subjectId", e.SubjectID).
		Str("circuit", e.Circuit).
		Str("reason", e.Reason).
		Dur("duration", e.Duration).
		Int("count", e.Count).
		Msg("telemetry event")
}
