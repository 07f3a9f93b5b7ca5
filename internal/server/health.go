package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jittakal/kafcsvconnect/internal/observability"
)

// TaskLister lists the connector tasks that are currently running.
type TaskLister interface {
	Tasks() []observability.TaskSnapshot
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse represents the task status response.
type StatusResponse struct {
	Timestamp string                       `json:"timestamp"`
	Tasks     []observability.TaskSnapshot `json:"tasks"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// It fails only when a connector has failed and the process should restart.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{Status: "alive", Timestamp: timestamp()}
		code := http.StatusOK
		if !checker.Liveness() {
			response.Status = "not alive"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes. The
// state of every component is included in the response.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    "ready",
			Timestamp: timestamp(),
			Checks:    checker.GetStatus(),
		}
		code := http.StatusOK
		if !checker.Readiness(r.Context()) {
			response.Status = "not ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response, logger)
	}
}

// StatusHandler returns a handler reporting the counters of every running task.
func StatusHandler(tasks TaskLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := tasks.Tasks()
		if snapshots == nil {
			snapshots = []observability.TaskSnapshot{}
		}
		writeJSON(w, http.StatusOK, StatusResponse{Timestamp: timestamp(), Tasks: snapshots}, logger)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "status_code", code, "error", err)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
