package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const (
	// Number of shards for the conversation map - use power of 2 for fast modulo
	numShards = 256
	// Default max idle time before eviction
	defaultMaxIdleTime = 24 * time.Hour
	// Default cleanup interval
	defaultCleanupInterval = 5 * time.Minute
)

// SnapshotCallback is invoked with a fresh snapshot on the configured
// cadence, on close, and on idle eviction.
type SnapshotCallback func(snapshot *MetricsSnapshot)

// ManagerConfig holds conversation manager configuration.
type ManagerConfig struct {
	Conversation ConversationConfig

	// MaxIdleTime evicts conversations with no ingest activity.
	MaxIdleTime time.Duration

	// CleanupInterval is how often idle conversations are scanned for.
	CleanupInterval time.Duration

	// SnapshotEvery publishes a snapshot to callbacks every N ingested
	// messages. Zero disables cadence publication; close and eviction
	// still publish.
	SnapshotEvery int
}

// conversationEntry tracks a conversation plus its cadence counter.
type conversationEntry struct {
	conversation  *Conversation
	sinceSnapshot int64
}

// conversationShard is a single shard of the conversation table.
type conversationShard struct {
	conversations map[string]*conversationEntry
	mutex         sync.RWMutex
}

// Manager owns the keyed table of conversations. Conversations are
// fully independent units of work: the table is sharded so parallel
// ingestion across conversations never contends on one lock, while
// each conversation serializes its own writes internally.
type Manager struct {
	logger *logrus.Logger
	scorer *Scorer
	config ManagerConfig
	shards [numShards]*conversationShard

	topicsMutex sync.RWMutex
	topics      []TopicSet

	callbacks     []SnapshotCallback
	callbackMutex sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}

	// Metrics - atomics for lock-free updates
	totalConversations  int64
	activeConversations int64
	totalMessages       int64
}

// NewManager creates a conversation manager and starts its cleanup loop.
func NewManager(logger *logrus.Logger, scorer *Scorer, config ManagerConfig) *Manager {
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = defaultMaxIdleTime
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	m := &Manager{
		logger:      logger,
		scorer:      scorer,
		config:      config,
		callbacks:   make([]SnapshotCallback, 0, 4),
		stopCleanup: make(chan struct{}),
	}

	for i := 0; i < numShards; i++ {
		m.shards[i] = &conversationShard{
			conversations: make(map[string]*conversationEntry, 16),
		}
	}

	m.cleanupTicker = time.NewTicker(config.CleanupInterval)
	go m.cleanupRoutine()

	logger.WithFields(logrus.Fields{
		"shards":           numShards,
		"max_idle_time":    config.MaxIdleTime,
		"cleanup_interval": config.CleanupInterval,
		"snapshot_every":   config.SnapshotEvery,
	}).Info("Conversation manager initialized")

	return m
}

// getShard returns the shard for a given conversation id using FNV-1a hash
func (m *Manager) getShard(conversationID string) *conversationShard {
	h := fnvHash(conversationID)
	return m.shards[h%numShards]
}

// fnvHash computes FNV-1a hash for string - fast and good distribution
func fnvHash(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// getOrCreate returns the entry for a conversation, creating it when absent.
func (m *Manager) getOrCreate(conversationID string) *conversationEntry {
	shard := m.getShard(conversationID)

	shard.mutex.RLock()
	entry, exists := shard.conversations[conversationID]
	shard.mutex.RUnlock()
	if exists {
		return entry
	}

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	// Double-check after acquiring write lock
	entry, exists = shard.conversations[conversationID]
	if !exists {
		entry = &conversationEntry{
			conversation: NewConversation(m.logger, conversationID, m.scorer, m.config.Conversation),
		}
		shard.conversations[conversationID] = entry
		atomic.AddInt64(&m.activeConversations, 1)
		atomic.AddInt64(&m.totalConversations, 1)
		if metrics.ActiveConversations != nil {
			metrics.ActiveConversations.Inc()
		}
		if metrics.ConversationsTotal != nil {
			metrics.ConversationsTotal.Inc()
		}
	}
	return entry
}

// get returns the entry for an existing conversation.
func (m *Manager) get(conversationID string) (*conversationEntry, error) {
	shard := m.getShard(conversationID)
	shard.mutex.RLock()
	entry, exists := shard.conversations[conversationID]
	shard.mutex.RUnlock()
	if !exists {
		return nil, errors.NewConversationNotFound(conversationID)
	}
	return entry, nil
}

// Ingest routes a message to its conversation, creating the
// conversation on first sight, and publishes a snapshot to registered
// callbacks on the configured cadence.
func (m *Manager) Ingest(msg Message) (ScoredMessage, error) {
	if msg.ConversationID == "" {
		return ScoredMessage{}, errors.NewInvalidMessage("missing conversation id")
	}

	entry := m.getOrCreate(msg.ConversationID)

	scored, err := entry.conversation.Ingest(msg)
	if err != nil {
		return ScoredMessage{}, err
	}

	atomic.AddInt64(&m.totalMessages, 1)

	if m.config.SnapshotEvery > 0 {
		since := atomic.AddInt64(&entry.sinceSnapshot, 1)
		if since >= int64(m.config.SnapshotEvery) {
			atomic.StoreInt64(&entry.sinceSnapshot, 0)
			snapshot := entry.conversation.Snapshot(m.Topics())
			m.publishSnapshot(snapshot)
		}
	}

	return scored, nil
}

// Snapshot computes a snapshot for a conversation. Nil topics means
// the manager's registered topic sets.
func (m *Manager) Snapshot(conversationID string, topics []TopicSet) (*MetricsSnapshot, error) {
	entry, err := m.get(conversationID)
	if err != nil {
		return nil, err
	}
	if topics == nil {
		topics = m.Topics()
	}
	return entry.conversation.Snapshot(topics), nil
}

// Export returns a conversation's retained state for persistence.
func (m *Manager) Export(conversationID string) (*ConversationExport, error) {
	entry, err := m.get(conversationID)
	if err != nil {
		return nil, err
	}
	return entry.conversation.Export(m.Topics()), nil
}

// Close transitions a conversation to Closed and publishes a final
// snapshot. The conversation stays queryable until idle eviction.
func (m *Manager) Close(conversationID string) (*MetricsSnapshot, error) {
	entry, err := m.get(conversationID)
	if err != nil {
		return nil, err
	}

	entry.conversation.Close()
	snapshot := entry.conversation.Snapshot(m.Topics())
	m.publishSnapshot(snapshot)

	return snapshot, nil
}

// RegisterTopics adds topic sets tracked in cadence and close
// snapshots. Topic sets with duplicate names replace earlier ones.
func (m *Manager) RegisterTopics(topics ...TopicSet) {
	m.topicsMutex.Lock()
	defer m.topicsMutex.Unlock()

	for _, topic := range topics {
		replaced := false
		for i, existing := range m.topics {
			if existing.Name == topic.Name {
				m.topics[i] = topic
				replaced = true
				break
			}
		}
		if !replaced {
			m.topics = append(m.topics, topic)
		}
	}
}

// Topics returns a copy of the registered topic sets.
func (m *Manager) Topics() []TopicSet {
	m.topicsMutex.RLock()
	defer m.topicsMutex.RUnlock()

	topics := make([]TopicSet, len(m.topics))
	copy(topics, m.topics)
	return topics
}

// AddSnapshotCallback registers a callback for published snapshots.
func (m *Manager) AddSnapshotCallback(callback SnapshotCallback) {
	m.callbackMutex.Lock()
	defer m.callbackMutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// publishSnapshot triggers all callbacks asynchronously so a slow
// subscriber never stalls ingestion.
func (m *Manager) publishSnapshot(snapshot *MetricsSnapshot) {
	m.callbackMutex.RLock()
	callbacks := make([]SnapshotCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMutex.RUnlock()

	for _, callback := range callbacks {
		go func(cb SnapshotCallback, snap *MetricsSnapshot) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithFields(logrus.Fields{
						"conversation_id": snap.ConversationID,
						"panic":           r,
					}).Error("Recovered from panic in snapshot callback")
				}
			}()
			cb(snap)
		}(callback, snapshot)
	}
}

// cleanupRoutine periodically evicts idle conversations.
func (m *Manager) cleanupRoutine() {
	for {
		select {
		case <-m.stopCleanup:
			return
		case <-m.cleanupTicker.C:
			m.cleanupIdleConversations()
		}
	}
}

// cleanupIdleConversations removes conversations idle beyond
// MaxIdleTime, publishing a final snapshot for each before the state
// is dropped.
func (m *Manager) cleanupIdleConversations() {
	now := time.Now()
	var cleanedCount int

	for i := 0; i < numShards; i++ {
		shard := m.shards[i]
		var toEvict []string

		shard.mutex.RLock()
		for id, entry := range shard.conversations {
			if now.Sub(entry.conversation.LastActivity()) > m.config.MaxIdleTime {
				toEvict = append(toEvict, id)
			}
		}
		shard.mutex.RUnlock()

		if len(toEvict) == 0 {
			continue
		}

		shard.mutex.Lock()
		for _, id := range toEvict {
			entry, exists := shard.conversations[id]
			if !exists {
				continue
			}
			entry.conversation.Close()
			snapshot := entry.conversation.Snapshot(m.Topics())
			m.publishSnapshot(snapshot)
			delete(shard.conversations, id)
			atomic.AddInt64(&m.activeConversations, -1)
			if metrics.ActiveConversations != nil {
				metrics.ActiveConversations.Dec()
			}
			if metrics.ConversationsEvicted != nil {
				metrics.ConversationsEvicted.WithLabelValues("idle").Inc()
			}
			cleanedCount++
		}
		shard.mutex.Unlock()
	}

	if cleanedCount > 0 {
		m.logger.WithField("count", cleanedCount).Info("Evicted idle conversations")
	}
}

// Shutdown stops the cleanup loop and closes all active conversations,
// publishing their final snapshots.
func (m *Manager) Shutdown() {
	close(m.stopCleanup)
	m.cleanupTicker.Stop()

	for i := 0; i < numShards; i++ {
		shard := m.shards[i]
		shard.mutex.Lock()
		for id, entry := range shard.conversations {
			entry.conversation.Close()
			snapshot := entry.conversation.Snapshot(m.Topics())
			m.publishSnapshot(snapshot)
			delete(shard.conversations, id)
			atomic.AddInt64(&m.activeConversations, -1)
			if metrics.ActiveConversations != nil {
				metrics.ActiveConversations.Dec()
			}
		}
		shard.mutex.Unlock()
	}

	m.logger.Info("Conversation manager shutdown complete")
}

// ActiveCount returns the number of active conversations.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeConversations))
}

// Stats returns manager counters.
func (m *Manager) Stats() (active, total, msgs int64) {
	return atomic.LoadInt64(&m.activeConversations),
		atomic.LoadInt64(&m.totalConversations),
		atomic.LoadInt64(&m.totalMessages)
}
