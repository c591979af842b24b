// Package store persists the subject records tracked by the migration
// engine. A record starts life as a placeholder carrying plaintext fields and
// is rewritten in place as migration replaces those fields with envelopes;
// the prior plaintext is retained alongside until the cutover is final, so
// every migration step stays reversible.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minkalla/hybridcrypto/internal/envelope"
)

// Crypto versions a record moves through.
const (
	// VersionPlaceholder marks a record still carrying plaintext fields.
	VersionPlaceholder = "placeholder"
	// VersionClassical marks a record whose fields were encrypted under the
	// classical fallback family.
	VersionClassical = "classical"
	// VersionPQC marks a record whose fields were encrypted under the
	// primary quantum-safe family.
	VersionPQC = "pqc-real"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// Record is one subject's tracked state. Envelope values are immutable once
// stored; rewriting a field means storing a new envelope.
type Record struct {
	// ID is the storage identifier.
	ID string `bson:"_id" json:"id"`
	// SubjectID is the raw subject identifier. It never crosses the engine
	// boundary; operations derive a CryptoIdentity token from it instead.
	SubjectID string `bson:"subject_id" json:"subjectId"`
	// Fields holds the current plaintext fields of a placeholder record.
	// Empty once the record is migrated.
	Fields map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
	// PriorFields holds the plaintext fields as they were before migration,
	// retained so a rollback can restore them exactly.
	PriorFields map[string]any `bson:"prior_fields,omitempty" json:"priorFields,omitempty"`
	// Envelopes holds the per-field encryption envelopes of a migrated
	// record, keyed by field name.
	Envelopes map[string]*envelope.Encryption `bson:"envelopes,omitempty" json:"envelopes,omitempty"`
	// KeyRef is the key reference the envelopes were produced under.
	KeyRef string `bson:"key_ref,omitempty" json:"keyRef,omitempty"`
	// CryptoVersion is the record's current crypto state.
	CryptoVersion string `bson:"crypto_version" json:"cryptoVersion"`
	// BackupCryptoVersion is the state to restore on rollback.
	BackupCryptoVersion string `bson:"backup_crypto_version,omitempty" json:"backupCryptoVersion,omitempty"`
	// MigrationDate is when the record last changed crypto state.
	MigrationDate time.Time `bson:"migration_date,omitempty" json:"migrationDate,omitempty"`
	// CryptoAlgorithm is the versioned algorithm tag the fields were
	// encrypted under, recorded for audit.
	CryptoAlgorithm string `bson:"crypto_algorithm,omitempty" json:"cryptoAlgorithm,omitempty"`
}

// Clone returns an independent copy of the record. Envelope pointers are
// shared since envelopes are immutable.
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = cloneFieldMap(r.Fields)
	out.PriorFields = cloneFieldMap(r.PriorFields)
	if r.Envelopes != nil {
		out.Envelopes = make(map[string]*envelope.Encryption, len(r.Envelopes))
		for k, v := range r.Envelopes {
			out.Envelopes[k] = v
		}
	}
	return &out
}

func cloneFieldMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RecordStore is the persistence contract the migration engine runs against.
type RecordStore interface {
	// Put inserts a record.
	Put(ctx context.Context, rec *Record) error
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// ListByVersion returns all records in the given crypto version, in
	// stable order. An empty version returns every record.
	ListByVersion(ctx context.Context, version string) ([]*Record, error)
	// Update rewrites the mutable portion of an existing record.
	Update(ctx context.Context, rec *Record) error
}

// MemoryStore is an in-memory RecordStore for tests and local development.
// It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Seed inserts a placeholder record with a fresh id and returns it.
func (s *MemoryStore) Seed(subjectID string, fields map[string]any) *Record {
	rec := &Record{
		ID:            uuid.NewString(),
		SubjectID:     subjectID,
		Fields:        cloneFieldMap(fields),
		CryptoVersion: VersionPlaceholder,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	s.order = append(s.order, rec.ID)
	s.mu.Unlock()

	return rec
}

// Put implements RecordStore.
func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Get implements RecordStore.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListByVersion implements RecordStore. Records are returned in insertion
// order.
func (s *MemoryStore) ListByVersion(_ context.Context, version string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, id := range s.order {
		rec := s.records[id]
		if version == "" || rec.CryptoVersion == version {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Update implements RecordStore.
func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}
