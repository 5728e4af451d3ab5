package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConversationHandler handles the conversation analytics API
type ConversationHandler struct {
	logger  *logrus.Logger
	service ConversationService
}

// NewConversationHandler creates a new conversation API handler
func NewConversationHandler(logger *logrus.Logger, service ConversationService) *ConversationHandler {
	return &ConversationHandler{
		logger:  logger,
		service: service,
	}
}

// RegisterHandlers registers conversation API handlers with the HTTP server
func (h *ConversationHandler) RegisterHandlers(server *Server) {
	server.RegisterHandler("/api/conversations/", h.handleConversation)
	server.RegisterHandler("/api/topics", h.handleTopics)

	h.logger.Info("Conversation API handlers registered")
}

// ingestMessageRequest is the POST body for message ingestion.
type ingestMessageRequest struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Sequence  uint64    `json:"sequence"`
}

// topicRequest is the POST body for topic registration.
type topicRequest struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

// handleConversation dispatches /api/conversations/{id}/{action}
func (h *ConversationHandler) handleConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, action := splitConversationPath(r.URL.Path)
	if conversationID == "" || action == "" {
		writeJSONError(w, errors.New("expected /api/conversations/{id}/{action}"), http.StatusNotFound)
		return
	}

	switch action {
	case "messages":
		h.handleIngestMessage(w, r, conversationID)
	case "snapshot":
		h.handleSnapshot(w, r, conversationID)
	case "export":
		h.handleExport(w, r, conversationID)
	case "close":
		h.handleClose(w, r, conversationID)
	default:
		writeJSONError(w, errors.New("unknown conversation action: "+action), http.StatusNotFound)
	}
}

// handleIngestMessage handles POST /api/conversations/{id}/messages
func (h *ConversationHandler) handleIngestMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req ingestMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	scored, err := h.service.Ingest(analytics.Message{
		ID:             req.ID,
		ConversationID: conversationID,
		Text:           req.Text,
		Timestamp:      req.Timestamp,
		Speaker:        req.Speaker,
		Sequence:       req.Sequence,
	})
	if err != nil {
		h.logger.WithError(err).WithField("conversation_id", conversationID).Debug("Message rejected")
		errors.WriteError(w, err)
		return
	}

	writeJSONResponse(w, scored, http.StatusAccepted)
}

// handleSnapshot handles GET /api/conversations/{id}/snapshot. Repeated
// topic query parameters restrict coherence to the named registered
// topic sets; without them the snapshot covers all registered sets.
func (h *ConversationHandler) handleSnapshot(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var topics []analytics.TopicSet
	if names := r.URL.Query()["topic"]; len(names) > 0 {
		registered := h.service.Topics()
		topics = make([]analytics.TopicSet, 0, len(names))
		for _, name := range names {
			for _, topic := range registered {
				if topic.Name == name {
					topics = append(topics, topic)
					break
				}
			}
		}
	}

	snapshot, err := h.service.Snapshot(conversationID, topics)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSONResponse(w, snapshot, http.StatusOK)
}

// handleExport handles GET /api/conversations/{id}/export
func (h *ConversationHandler) handleExport(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	export, err := h.service.Export(conversationID)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSONResponse(w, export, http.StatusOK)
}

// handleClose handles POST /api/conversations/{id}/close
func (h *ConversationHandler) handleClose(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := h.service.Close(conversationID)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	h.logger.WithField("conversation_id", conversationID).Info("Conversation closed via API")
	writeJSONResponse(w, snapshot, http.StatusOK)
}

// handleTopics handles GET and POST /api/topics
func (h *ConversationHandler) handleTopics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, h.service.Topics(), http.StatusOK)

	case http.MethodPost:
		var req topicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, errors.Wrap(err, "invalid request body"), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			writeJSONError(w, errors.New("topic name is required"), http.StatusBadRequest)
			return
		}

		topic := analytics.NewTopicSet(req.Name, req.Words)
		h.service.RegisterTopics(topic)

		h.logger.WithFields(logrus.Fields{
			"topic": topic.Name,
			"words": len(topic.Words),
		}).Info("Topic registered via API")
		writeJSONResponse(w, topic, http.StatusCreated)

	default:
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
	}
}

// splitConversationPath extracts the conversation id and action from
// /api/conversations/{id}/{action}
func splitConversationPath(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "conversations" {
		return parts[2], parts[3]
	}
	return "", ""
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
