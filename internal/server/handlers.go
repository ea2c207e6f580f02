package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aeonsage/aeonsage/internal/gate"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"error": fmt.Sprintf(format, args...),
	})
}

// CheckOperationRequest represents a request to the operation check endpoint
type CheckOperationRequest struct {
	Operation string        `json:"operation"`
	Context   *gate.Context `json:"context,omitempty"`
}

// CheckOperationResponse represents an operation check response
type CheckOperationResponse struct {
	Result    gate.CheckResult `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

// handleOperationCheck handles operation authorization requests
func (s *Server) handleOperationCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CheckOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}

	result := s.gates.CheckOperation(r.Context(), req.Operation, req.Context)
	_ = s.auditor.LogDecision(r.Context(), req.Operation, gateID(result.Gate), result.Allowed, result.Message)

	writeJSON(w, http.StatusOK, CheckOperationResponse{
		Result:    result,
		Timestamp: time.Now().UTC(),
	})
}

func gateID(g *gate.Gate) string {
	if g == nil {
		return ""
	}
	return g.ID
}

// handleRecentDecisions returns the newest authorization decisions.
func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit: %s", v)
			return
		}
		limit = n
	}

	decisions, err := s.history.RecentDecisions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query decisions: %v", err)
		return
	}
	if decisions == nil {
		decisions = []gate.DecisionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
