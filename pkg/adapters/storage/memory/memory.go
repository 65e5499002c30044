package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/procflow/pkg/domain"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemorySnapshotStorage implements ports.SnapshotStorage using an in-memory map.
// Snapshots are stored JSON encoded so loads never alias the saved value.
type InMemorySnapshotStorage struct {
	entries map[string]entry
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemorySnapshotStorage creates a new in-memory snapshot storage
func NewInMemorySnapshotStorage() *InMemorySnapshotStorage {
	return &InMemorySnapshotStorage{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Save persists a run snapshot, keeping any TTL already set
func (s *InMemorySnapshotStorage) Save(ctx context.Context, snapshot *domain.RunSnapshot) error {
	if snapshot == nil || snapshot.RunID == "" {
		return errors.New("snapshot with run id is required")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[snapshot.RunID]
	e.data = data
	s.entries[snapshot.RunID] = e
	return nil
}

// Load retrieves the snapshot of a run
func (s *InMemorySnapshotStorage) Load(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	s.mu.RLock()
	e, ok := s.lookup(runID)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	var snapshot domain.RunSnapshot
	if err := json.Unmarshal(e.data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot of a run
func (s *InMemorySnapshotStorage) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, runID)
	return nil
}

// Exists checks if a snapshot is stored for a run
func (s *InMemorySnapshotStorage) Exists(ctx context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.lookup(runID)
	return ok, nil
}

// SetTTL expires the snapshot of a run after ttl
func (s *InMemorySnapshotStorage) SetTTL(ctx context.Context, runID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(runID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[runID] = e
	return nil
}

// List returns the ids of every stored run, sorted
func (s *InMemorySnapshotStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		if _, ok := s.lookup(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// lookup returns a live entry; callers hold the lock
func (s *InMemorySnapshotStorage) lookup(runID string) (entry, bool) {
	e, ok := s.entries[runID]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}
