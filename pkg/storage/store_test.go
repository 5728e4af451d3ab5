package storage

import (
	"io"
	"testing"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSnapshot(conversationID string) *analytics.MetricsSnapshot {
	score := 0.1
	return &analytics.MetricsSnapshot{
		ConversationID: conversationID,
		State:          "active",
		SentimentScore: &score,
		MessageCount:   2,
		UpdatedAt:      time.Now(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)

	require.NoError(t, store.Store(testSnapshot("conv-1")))

	got, err := store.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, 2, got.MessageCount)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)

	_, err := store.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConversationNotFound))
}

func TestMemoryStoreOverwrite(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)

	first := testSnapshot("conv-1")
	require.NoError(t, store.Store(first))

	second := testSnapshot("conv-1")
	second.MessageCount = 5
	require.NoError(t, store.Store(second))

	got, err := store.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MessageCount)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)

	require.NoError(t, store.Store(testSnapshot("conv-1")))
	require.NoError(t, store.Delete("conv-1"))

	_, err := store.Get("conv-1")
	assert.True(t, errors.Is(err, errors.ErrConversationNotFound))
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)

	require.NoError(t, store.Store(testSnapshot("conv-1")))
	require.NoError(t, store.Store(testSnapshot("conv-2")))

	snapshots, err := store.List()
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 10*time.Millisecond)

	require.NoError(t, store.Store(testSnapshot("conv-1")))
	time.Sleep(20 * time.Millisecond)

	_, err := store.Get("conv-1")
	assert.True(t, errors.Is(err, errors.ErrConversationNotFound))

	assert.Equal(t, 1, store.Cleanup())

	snapshots, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestMemoryStoreHealth(t *testing.T) {
	store := NewMemorySnapshotStore(newTestLogger(), 0)
	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}
