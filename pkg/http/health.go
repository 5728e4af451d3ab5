package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"convometrics-server/pkg/version"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines          int    `json:"goroutines"`
	MemoryMB            uint64 `json:"memory_mb"`
	CPUCount            int    `json:"cpu_count"`
	ActiveConversations int    `json:"active_conversations"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	// Analytics engine
	if s.service != nil {
		health.Checks["analytics"] = CheckResult{
			Status:  "healthy",
			Message: "Conversation manager is running",
		}
	} else {
		health.Checks["analytics"] = CheckResult{
			Status:  "unhealthy",
			Message: "Conversation manager not initialized",
		}
		health.Status = "unhealthy"
	}

	// Snapshot store
	if s.store != nil {
		if err := s.store.Health(); err != nil {
			health.Checks["store"] = CheckResult{
				Status:  "degraded",
				Message: "Snapshot store unreachable: " + err.Error(),
			}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		} else {
			health.Checks["store"] = CheckResult{
				Status:  "healthy",
				Message: "Snapshot store reachable",
			}
		}
	}

	// AMQP broker. Publishing is best-effort, so a down broker only
	// degrades health.
	if s.amqpConnected != nil {
		if s.amqpConnected() {
			health.Checks["amqp"] = CheckResult{
				Status:  "healthy",
				Message: "AMQP broker connected",
			}
		} else {
			health.Checks["amqp"] = CheckResult{
				Status:  "degraded",
				Message: "AMQP broker not connected",
			}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	// WebSocket hub
	if s.wsHandler != nil {
		health.Checks["websocket"] = CheckResult{
			Status:  "healthy",
			Message: "WebSocket hub is running",
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health.System = SystemInfo{
		GoRoutines: runtime.NumGoroutine(),
		MemoryMB:   memStats.Alloc / 1024 / 1024,
		CPUCount:   runtime.NumCPU(),
	}
	if s.service != nil {
		health.System.ActiveConversations = s.service.ActiveCount()
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler reports process liveness only
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessHandler reports whether the server can take traffic
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.service != nil

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
