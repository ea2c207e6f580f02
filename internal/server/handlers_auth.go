package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aeonsage/aeonsage/internal/auth"
)

// PinRequest represents a PIN set/verify body. The PIN is used in-memory and
// discarded; it never reaches the audit log or any store in raw form.
type PinRequest struct {
	Pin    string `json:"pin"`
	OldPin string `json:"old_pin,omitempty"`
}

// handlePin handles credential status and initial set.
func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		set, err := s.pins.IsSet(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load credential: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"set": set})

	case http.MethodPost:
		var req PinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: %v", err)
			return
		}
		if err := s.pins.SetPin(r.Context(), req.Pin); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrInvalidPin) {
				status = http.StatusBadRequest
			}
			writeError(w, status, "%v", err)
			return
		}
		_ = s.auditor.LogPinSet(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{"set": true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePinVerify handles a standalone verification attempt.
func (s *Server) handlePinVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	result, err := s.pins.Verify(r.Context(), req.Pin)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrNoPinSet) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "%v", err)
		return
	}

	_ = s.auditor.LogPinVerified(r.Context(), result.OK)
	if result.LockedUntil != nil && !result.OK {
		_ = s.auditor.LogPinLocked(r.Context(), *result.LockedUntil)
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusForbidden
	}
	writeJSON(w, status, result)
}

// handlePinChange replaces the PIN after verifying the current one.
func (s *Server) handlePinChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	if err := s.pins.ChangePin(r.Context(), req.OldPin, req.Pin); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, auth.ErrInvalidPin) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "%v", err)
		return
	}
	_ = s.auditor.LogPinSet(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"changed": true})
}

// KillRequest represents a kill switch activation body.
type KillRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}

// handleKillSwitchState reports the current kill switch state.
func (s *Server) handleKillSwitchState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.kill.State())
}

// handleKill engages the emergency kill switch. There is no corresponding
// resume endpoint; clearing the switch requires CLI access to the host.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	err := s.kill.Kill(r.Context(), req.Reason, req.By)
	state := s.kill.State()
	if err != nil {
		// The switch is engaged in memory but did not persist; report both.
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"state": state,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, state)
}
