package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/lexicon"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) (*Server, *analytics.Manager) {
	t.Helper()

	logger := newTestLogger()
	provider, err := lexicon.NewStaticProvider(map[string]float64{"hi": 0.2, "good": 0.7, "bad": -0.7})
	require.NoError(t, err)

	scorer := analytics.NewScorer(logger, provider, analytics.DefaultScorerConfig())
	manager := analytics.NewManager(logger, scorer, analytics.ManagerConfig{})
	t.Cleanup(manager.Shutdown)

	config := NewDefaultConfig()
	config.EnableMetrics = false

	return NewServer(logger, config, manager), manager
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestMessageEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi there", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var scored analytics.ScoredMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scored))
	assert.Equal(t, "conv-1", scored.ConversationID)
	assert.NotEmpty(t, scored.ID, "server should assign a message id")
	assert.InDelta(t, 0.1, scored.SentimentScore, 1e-9)
	assert.Equal(t, "positive", scored.SentimentLabel)
}

func TestIngestMessageInvalidBody(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/api/conversations/conv-1/messages", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestMessageOutOfOrderConflict(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "alice", "timestamp": "2026-08-26T10:00:05Z"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "bob", "timestamp": "2026-08-26T10:00:00Z"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "OUT_OF_ORDER")
}

func TestSnapshotEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi there", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)
	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi again", "speaker": "bob", "timestamp": "2026-08-26T10:00:05Z"}`)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot analytics.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "active", snapshot.State)
	assert.Equal(t, 2, snapshot.MessageCount)
	require.NotNil(t, snapshot.EngagementScore)
	assert.InDelta(t, 0.4, *snapshot.EngagementScore, 1e-9)
}

func TestSnapshotUnknownConversation(t *testing.T) {
	server, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/api/conversations/nope/snapshot")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotNullFieldsBeforeData(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	// One message is not enough for an engagement score.
	assert.Contains(t, rec.Body.String(), `"engagement_score":null`)
}

func TestCloseEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	rec := postJSON(t, server.Handler(), "/api/conversations/conv-1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot analytics.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "closed", snapshot.State)

	// Ingesting into a closed conversation conflicts.
	rec = postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "bob", "timestamp": "2026-08-26T10:00:05Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONVERSATION_CLOSED")
}

func TestExportEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi there", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/export")
	require.Equal(t, http.StatusOK, rec.Code)

	var export analytics.ConversationExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Equal(t, "conv-1", export.ConversationID)
	assert.Len(t, export.Messages, 1)
	assert.Equal(t, []string{"alice"}, export.Participants)
}

func TestTopicsEndpoint(t *testing.T) {
	server, manager := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/api/topics",
		`{"name": "greetings", "words": ["Hi", "hi", "there"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	topics := manager.Topics()
	require.Len(t, topics, 1)
	assert.Equal(t, []string{"hi", "there"}, topics[0].Words, "words should be lowercased and deduplicated")

	rec = getJSON(t, server.Handler(), "/api/topics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greetings")
}

func TestSnapshotTopicFilter(t *testing.T) {
	server, manager := newTestServer(t)

	manager.RegisterTopics(
		analytics.NewTopicSet("greetings", []string{"hi", "there"}),
		analytics.NewTopicSet("quality", []string{"good", "bad"}),
	)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi there", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/snapshot?topic=greetings")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot analytics.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot.TopicCoherence, "greetings")
	assert.NotContains(t, snapshot.TopicCoherence, "quality")
}

func TestTopicsRequiresName(t *testing.T) {
	server, _ := newTestServer(t)

	rec := postJSON(t, server.Handler(), "/api/topics", `{"words": ["a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/messages")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = postJSON(t, server.Handler(), "/api/conversations/conv-1/snapshot", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownAction(t *testing.T) {
	server, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/api/conversations/conv-1/bogus")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Checks["analytics"].Status)

	rec = getJSON(t, server.Handler(), "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = getJSON(t, server.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "alice", "timestamp": "2026-08-26T10:00:00Z"}`)

	rec := getJSON(t, server.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, float64(1), status["active_conversations"])
	assert.Equal(t, float64(1), status["total_messages"])
}

func TestServerHeader(t *testing.T) {
	server, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/health")
	assert.True(t, strings.HasPrefix(rec.Header().Get("Server"), "convometrics/"))
}

func TestIngestDefaultsTimestamp(t *testing.T) {
	server, _ := newTestServer(t)

	before := time.Now()
	rec := postJSON(t, server.Handler(), "/api/conversations/conv-1/messages",
		`{"text": "hi", "speaker": "alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var scored analytics.ScoredMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scored))
	assert.False(t, scored.Timestamp.Before(before), "missing timestamp should default to now")
}
