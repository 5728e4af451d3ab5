package http

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"convometrics-server/pkg/analytics"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialAnalyticsWS(t *testing.T, handler *AnalyticsWebSocketHandler, query string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/analytics" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readAnalyticsMessage(t *testing.T, conn *websocket.Conn) AnalyticsMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	// writePump batches queued frames newline-separated; take the first.
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		data = data[:idx]
	}

	var msg AnalyticsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestAnalyticsWebSocketWelcome(t *testing.T) {
	handler := NewAnalyticsWebSocketHandler(newTestLogger())
	handler.Start()

	conn := dialAnalyticsWS(t, handler, "")

	welcome := readAnalyticsMessage(t, conn)
	assert.Equal(t, "connected", welcome.Type)
	require.NotNil(t, welcome.Event)

	event, ok := welcome.Event.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, event["session_id"])
}

func TestAnalyticsWebSocketBroadcastSnapshot(t *testing.T) {
	handler := NewAnalyticsWebSocketHandler(newTestLogger())
	handler.Start()

	conn := dialAnalyticsWS(t, handler, "")
	readAnalyticsMessage(t, conn) // welcome

	score := 0.25
	handler.BroadcastSnapshot(&analytics.MetricsSnapshot{
		ConversationID: "conv-1",
		State:          analytics.StateActive,
		SentimentScore: &score,
	})

	msg := readAnalyticsMessage(t, conn)
	assert.Equal(t, "snapshot_update", msg.Type)
	assert.Equal(t, "conv-1", msg.ConversationID)
	require.NotNil(t, msg.Data)
	require.NotNil(t, msg.Data.SentimentScore)
	assert.InDelta(t, 0.25, *msg.Data.SentimentScore, 1e-9)
}

func TestAnalyticsWebSocketConversationFilter(t *testing.T) {
	handler := NewAnalyticsWebSocketHandler(newTestLogger())
	handler.Start()

	conn := dialAnalyticsWS(t, handler, "?conversation_id=conv-2")
	readAnalyticsMessage(t, conn) // welcome

	handler.BroadcastSnapshot(&analytics.MetricsSnapshot{ConversationID: "conv-1"})
	handler.BroadcastSnapshot(&analytics.MetricsSnapshot{ConversationID: "conv-2"})

	// Only the subscribed conversation's snapshot arrives.
	msg := readAnalyticsMessage(t, conn)
	assert.Equal(t, "conv-2", msg.ConversationID)
}

func TestAnalyticsWebSocketClientPing(t *testing.T) {
	handler := NewAnalyticsWebSocketHandler(newTestLogger())
	handler.Start()

	conn := dialAnalyticsWS(t, handler, "")
	readAnalyticsMessage(t, conn) // welcome

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	msg := readAnalyticsMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}
