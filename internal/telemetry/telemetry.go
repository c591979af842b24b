// Package telemetry defines the append-only event contract emitted by the
// hybrid core at every dispatch decision. Events carry algorithm identifiers,
// CryptoIdentity tokens, reasons and timings. They never carry raw key
// material, plaintext, or raw subject ids.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies a telemetry event.
type EventType string

// Event types emitted by the core.
const (
	EventCryptoFallbackUsed  EventType = "CRYPTO_FALLBACK_USED"
	EventCircuitOpened       EventType = "CIRCUIT_OPENED"
	EventCircuitHalfOpen     EventType = "CIRCUIT_HALF_OPEN"
	EventCircuitClosed       EventType = "CIRCUIT_CLOSED"
	EventMigrationCompleted  EventType = "MIGRATION_COMPLETED"
	EventMigrationRolledBack EventType = "MIGRATION_ROLLED_BACK"
)

// Event is a single append-only telemetry record, emitted synchronously at
// the point of decision and never mutated.
type Event struct {
	// Type identifies the event.
	Type EventType `json:"eventType"`
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
	// Operation is the logical operation, e.g. "encrypt" or "sign".
	Operation string `json:"operation,omitempty"`
	// Algorithm is the versioned algorithm tag involved.
	Algorithm string `json:"algorithm,omitempty"`
	// SubjectID is the CryptoIdentity token, never the raw subject id.
	SubjectID string `json:"subjectId,omitempty"`
	// Circuit names the circuit for breaker state-change events.
	Circuit string `json:"circuit,omitempty"`
	// Reason is the failure or fallback reason, when applicable.
	Reason string `json:"reason,omitempty"`
	// Duration is how long the operation took.
	Duration time.Duration `json:"duration,omitempty"`
	// Count carries aggregate counts for migration events.
	Count int `json:"count,omitempty"`
}

// Sink consumes telemetry events. Emit must be safe for concurrent use and
// must not block the caller for long; slow consumers should buffer.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// MemorySink retains events in order of emission. It is safe for concurrent
// use and intended for tests and in-process inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of all events emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns the emitted events of the given type, in emission order.
func (s *MemorySink) ByType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all retained events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
