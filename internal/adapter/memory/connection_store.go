package memory

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/domain"
)

// ConnectionStore keeps the registry in process memory for single-instance mode.
// Safe for concurrent use; no lock is held while the caller does I/O.
type ConnectionStore struct {
	clock      clockwork.Clock
	instanceID string

	mu      sync.RWMutex
	records map[domain.ConnectionID]domain.ConnectionRecord
}

func NewConnectionStore(clock clockwork.Clock, instanceID string) *ConnectionStore {
	return &ConnectionStore{
		clock:      clock,
		instanceID: instanceID,
		records:    make(map[domain.ConnectionID]domain.ConnectionRecord),
	}
}

// Add registers id. Re-adding an existing id keeps the original record.
func (s *ConnectionStore) Add(_ context.Context, id domain.ConnectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return nil
	}
	s.records[id] = domain.ConnectionRecord{
		ID:          id,
		InstanceID:  s.instanceID,
		ConnectedAt: s.clock.Now(),
	}
	return nil
}

func (s *ConnectionStore) Remove(_ context.Context, id domain.ConnectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *ConnectionStore) ListAll(_ context.Context) ([]domain.ConnectionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ConnectionID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *ConnectionStore) Record(_ context.Context, id domain.ConnectionID) (domain.ConnectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return domain.ConnectionRecord{}, domain.ErrConnectionNotFound
	}
	return record, nil
}

// Ping always succeeds; it exists so the store can back a readiness check.
func (s *ConnectionStore) Ping(_ context.Context) error {
	return nil
}

func (s *ConnectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
