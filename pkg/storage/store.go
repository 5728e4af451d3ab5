package storage

import (
	"sync"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// SnapshotStore persists the latest analytics snapshot per
// conversation so downstream consumers can read state without hitting
// the ingestion path.
type SnapshotStore interface {
	Store(snapshot *analytics.MetricsSnapshot) error
	Get(conversationID string) (*analytics.MetricsSnapshot, error)
	Delete(conversationID string) error
	List() ([]*analytics.MetricsSnapshot, error)
	Health() error
	Close() error
}

// MemorySnapshotStore is the in-process store used when Redis is not
// configured. Entries expire after the configured TTL.
type MemorySnapshotStore struct {
	logger *logrus.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	snapshot *analytics.MetricsSnapshot
	storedAt time.Time
}

// NewMemorySnapshotStore creates an in-memory snapshot store. A
// non-positive TTL disables expiry.
func NewMemorySnapshotStore(logger *logrus.Logger, ttl time.Duration) *MemorySnapshotStore {
	return &MemorySnapshotStore{
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

// Store saves the latest snapshot for a conversation.
func (s *MemorySnapshotStore) Store(snapshot *analytics.MetricsSnapshot) error {
	s.mu.Lock()
	s.entries[snapshot.ConversationID] = memoryEntry{
		snapshot: snapshot,
		storedAt: time.Now(),
	}
	s.mu.Unlock()

	metrics.RecordStoreOperation("memory", "store", "success")
	return nil
}

// Get returns the stored snapshot for a conversation.
func (s *MemorySnapshotStore) Get(conversationID string) (*analytics.MetricsSnapshot, error) {
	s.mu.RLock()
	entry, exists := s.entries[conversationID]
	s.mu.RUnlock()

	if !exists || s.expired(entry) {
		metrics.RecordStoreOperation("memory", "get", "miss")
		return nil, errors.NewConversationNotFound(conversationID)
	}

	metrics.RecordStoreOperation("memory", "get", "success")
	return entry.snapshot, nil
}

// Delete removes a conversation's snapshot.
func (s *MemorySnapshotStore) Delete(conversationID string) error {
	s.mu.Lock()
	delete(s.entries, conversationID)
	s.mu.Unlock()

	metrics.RecordStoreOperation("memory", "delete", "success")
	return nil
}

// List returns all non-expired snapshots.
func (s *MemorySnapshotStore) List() ([]*analytics.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]*analytics.MetricsSnapshot, 0, len(s.entries))
	for _, entry := range s.entries {
		if s.expired(entry) {
			continue
		}
		snapshots = append(snapshots, entry.snapshot)
	}
	return snapshots, nil
}

// Cleanup drops expired entries. The in-memory store needs explicit
// sweeps where Redis expires keys on its own.
func (s *MemorySnapshotStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Health always succeeds for the in-memory store.
func (s *MemorySnapshotStore) Health() error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemorySnapshotStore) Close() error {
	return nil
}

func (s *MemorySnapshotStore) expired(entry memoryEntry) bool {
	return s.ttl > 0 && time.Since(entry.storedAt) > s.ttl
}
