package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aeonsage/aeonsage/internal/audit"
	"github.com/aeonsage/aeonsage/internal/gate"
)

// handleGates lists the gate set in evaluation order.
func (s *Server) handleGates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	gates := s.gates.AllGates()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gates": gates,
		"count": len(gates),
	})
}

// routeGate dispatches /api/v1/gates/{id}[/enable|/disable].
func (s *Server) routeGate(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/gates/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "gate id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleGate(w, r, id)
	case "enable":
		s.handleGateToggle(w, r, id, true)
	case "disable":
		s.handleGateToggle(w, r, id, false)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		g, ok := s.gates.GetGate(id)
		if !ok {
			writeError(w, http.StatusNotFound, "gate not found: %s", id)
			return
		}
		writeJSON(w, http.StatusOK, g)

	case http.MethodPatch, http.MethodPut:
		var upd gate.GateUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: %v", err)
			return
		}
		updated, err := s.gates.UpdateGate(r.Context(), id, upd)
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			writeError(w, status, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGateToggle(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.gates.SetGateEnabled(r.Context(), id, enabled); err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	g, _ := s.gates.GetGate(id)
	writeJSON(w, http.StatusOK, g)
}

// handleGatesExport serializes the full gate set.
func (s *Server) handleGatesExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.gates.ExportConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export gates: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleGatesImport replaces the gate set from a JSON list. Nothing is
// applied partially.
func (s *Server) handleGatesImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if err := s.gates.ImportConfig(r.Context(), data); err != nil {
		writeError(w, http.StatusBadRequest, "import gates: %v", err)
		return
	}

	gates := s.gates.AllGates()
	_ = s.auditor.Log(r.Context(), audit.NewEvent(audit.EventGatesImported).
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("imported %d gates", len(gates))))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gates": gates,
		"count": len(gates),
	})
}
