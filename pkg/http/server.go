package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"
	"convometrics-server/pkg/version"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ConversationService is the analytics surface the HTTP layer talks to
type ConversationService interface {
	Ingest(msg analytics.Message) (analytics.ScoredMessage, error)
	Snapshot(conversationID string, topics []analytics.TopicSet) (*analytics.MetricsSnapshot, error)
	Export(conversationID string) (*analytics.ConversationExport, error)
	Close(conversationID string) (*analytics.MetricsSnapshot, error)
	RegisterTopics(topics ...analytics.TopicSet)
	Topics() []analytics.TopicSet
	ActiveCount() int
	Stats() (active, total, msgs int64)
}

// SnapshotReader exposes stored snapshots for health checks and reads
type SnapshotReader interface {
	Get(conversationID string) (*analytics.MetricsSnapshot, error)
	Health() error
}

// Server represents the HTTP server for the analytics API, health
// checks and metrics
type Server struct {
	config             *Config
	logger             *logrus.Logger
	httpServer         *http.Server
	mux                *http.ServeMux
	service            ConversationService
	store              SnapshotReader
	startTime          time.Time
	additionalHandlers map[string]http.HandlerFunc
	wsHandler          *AnalyticsWebSocketHandler
	amqpConnected      func() bool
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, config *Config, service ConversationService) *Server {
	if config == nil {
		config = NewDefaultConfig()
	}

	server := &Server{
		config:             config,
		logger:             logger,
		service:            service,
		startTime:          time.Now(),
		additionalHandlers: make(map[string]http.HandlerFunc),
	}

	mux := http.NewServeMux()
	server.mux = mux

	// Wrap handlers with middleware that adds Server header
	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	// Register standard endpoints
	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))

	if config.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			promHandler := promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			)
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		} else {
			logger.Warn("Metrics registry not initialized, /metrics endpoint disabled")
		}
	} else {
		logger.Info("Metrics endpoints disabled")
	}

	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	if config.EnableAPI {
		handler := NewConversationHandler(logger, service)
		handler.RegisterHandlers(server)
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// RegisterHandler adds a custom handler to the server
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.additionalHandlers[path] = handler

	if s.mux != nil {
		s.mux.HandleFunc(path, handler)
	}

	s.logger.WithField("path", path).Debug("Registered HTTP handler")
}

// SetSnapshotStore sets the snapshot store reference for health checks
func (s *Server) SetSnapshotStore(store SnapshotReader) {
	s.store = store
}

// SetAnalyticsWebSocketHandler sets the analytics WebSocket handler
func (s *Server) SetAnalyticsWebSocketHandler(handler *AnalyticsWebSocketHandler) {
	s.wsHandler = handler

	if s.mux != nil {
		s.mux.HandleFunc("/ws/analytics", handler.ServeHTTP)
		s.logger.Info("Analytics WebSocket endpoint registered at /ws/analytics")
	}
}

// GetAnalyticsWebSocketHandler returns the analytics WebSocket handler
func (s *Server) GetAnalyticsWebSocketHandler() *AnalyticsWebSocketHandler {
	return s.wsHandler
}

// SetAMQPStatusCheck sets the callback used to report broker health
func (s *Server) SetAMQPStatusCheck(check func() bool) {
	s.amqpConnected = check
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		s.logger.Infof("HTTP server listening on port %d", s.config.Port)
		if s.config.TLSEnabled {
			if s.config.TLSCertFile == "" || s.config.TLSKeyFile == "" {
				s.logger.Error("TLS is enabled but certificate or key path is missing; refusing to start HTTP server")
				return
			}

			s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}

			if err := s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("HTTP TLS server failed")
			}
			return
		}

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	// Verify that we can actually bind to the port
	go func() {
		time.Sleep(500 * time.Millisecond)

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port), 2*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Could not connect to HTTP server")
		} else {
			s.logger.Info("HTTP server is running correctly")
			conn.Close()
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("endpoint", "/status").Debug("Status endpoint accessed")

	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"version":    version.Version,
		"started_at": s.startTime.Format(time.RFC3339),
	}

	if s.service != nil {
		active, total, msgs := s.service.Stats()
		status["active_conversations"] = active
		status["total_conversations"] = total
		status["total_messages"] = msgs
	}

	if s.wsHandler != nil {
		status["websocket_clients"] = s.wsHandler.GetConnectedClients()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}
