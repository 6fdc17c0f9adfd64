package infrastructure

import (
	"context"
	"sync"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/errors"
	"github.com/trimwell/portal/internal/shared/types"
)

// MemoryStore holds patient records in process memory. It backs the
// database-less development mode and the test suites. Readers get deep
// copies, so HTTP handlers can encode a record while the reducer is merging
// the next update; committed records are replaced via Put, never mutated in
// place. Section writes are accepted and dropped since Put already stored
// the merged record.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.ID]*domain.PatientRecord
	order   []types.ID
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.ID]*domain.PatientRecord)}
}

// Create registers a record. The store takes ownership of it; duplicate ids
// conflict.
func (s *MemoryStore) Create(_ context.Context, rec *domain.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return errors.Conflict("patient already exists")
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

// Get returns a snapshot of the record for an id.
func (s *MemoryStore) Get(_ context.Context, id types.ID) (*domain.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.NotFound("patient", id.String())
	}
	return rec.Clone(), nil
}

// List returns snapshots of all records in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]*domain.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PatientRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// Put replaces the stored record with the merged result. The store keeps its
// own copy so the caller's pointer never aliases committed state.
func (s *MemoryStore) Put(_ context.Context, rec *domain.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return errors.NotFound("patient", rec.ID.String())
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// SaveSection accepts the write; Put already stored the merged record.
func (s *MemoryStore) SaveSection(context.Context, types.ID, string, any) error {
	return nil
}

// AppendEvent accepts the write; Put already stored the appended event.
func (s *MemoryStore) AppendEvent(context.Context, types.ID, string, domain.TimelineEvent) error {
	return nil
}
