package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aeonsage/aeonsage/internal/gate"
)

// CreateApprovalRequest represents a request to open an approval.
type CreateApprovalRequest struct {
	Operation string        `json:"operation"`
	Context   *gate.Context `json:"context,omitempty"`
}

// CreateApprovalResponse carries the check result and, when the gate asked
// for approval, the pending request.
type CreateApprovalResponse struct {
	Result    gate.CheckResult      `json:"result"`
	Request   *gate.ApprovalRequest `json:"request,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// ResolveApprovalRequest represents an approve/deny body. For the pin method
// the raw PIN is verified server-side; for stronger methods the caller's
// verifier attests the result.
type ResolveApprovalRequest struct {
	Method   gate.AuthMethod `json:"method,omitempty"`
	Pin      string          `json:"pin,omitempty"`
	Verified bool            `json:"verified,omitempty"`
	By       string          `json:"by,omitempty"`
}

// handleApprovals handles the approvals collection: list pending, create new.
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending := s.gates.GetPendingApprovals()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"approvals": pending,
			"count":     len(pending),
		})

	case http.MethodPost:
		var req CreateApprovalRequest
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

		resp := CreateApprovalResponse{Result: result, Timestamp: time.Now().UTC()}

		// Only an "ask" outcome opens a request. Threat overrides and plain
		// denials have no approval path here.
		if !result.Allowed && result.RequiresAuth != "" && result.Gate != nil && result.Gate.ID != "threat_override" {
			var details map[string]interface{}
			if req.Context != nil {
				details = req.Context.Details
			}
			created := s.gates.CreateApprovalRequest(r.Context(), *result.Gate, req.Operation, details, result.Threat)
			resp.Request = &created
			writeJSON(w, http.StatusCreated, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// routeApproval dispatches /api/v1/approvals/{id}[/approve|/deny|/timeline].
func (s *Server) routeApproval(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/approvals/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "approval id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleApprovalGet(w, r, id)
	case "approve":
		s.handleApprovalApprove(w, r, id)
	case "deny":
		s.handleApprovalDeny(w, r, id)
	case "timeline":
		s.handleApprovalTimeline(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleApprovalGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := s.gates.GetApproval(id)
	if !ok {
		writeError(w, http.StatusNotFound, "approval request not found: %s", id)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprovalApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ResolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}
	if body.Method == "" {
		body.Method = gate.AuthPin
	}

	ev := gate.AuthEvidence{Method: body.Method, By: body.By}
	switch body.Method {
	case gate.AuthPin:
		// The raw PIN is checked here and discarded. It is never persisted
		// or logged.
		result, err := s.pins.Verify(r.Context(), body.Pin)
		if err != nil {
			writeError(w, http.StatusBadRequest, "pin verification: %v", err)
			return
		}
		_ = s.auditor.LogPinVerified(r.Context(), result.OK)
		if result.LockedUntil != nil && !result.OK {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{
				"error":        "pin locked",
				"locked_until": result.LockedUntil,
			})
			return
		}
		ev.Verified = result.OK
	default:
		// totp and biometric verdicts come from the out-of-band verifier.
		ev.Verified = body.Verified
	}

	if err := s.gates.ApproveRequest(r.Context(), id, ev); err != nil {
		writeResolveError(w, err)
		return
	}

	req, _ := s.gates.GetApproval(id)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprovalDeny(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ResolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	if err := s.gates.DenyRequest(r.Context(), id, body.By); err != nil {
		writeResolveError(w, err)
		return
	}

	req, _ := s.gates.GetApproval(id)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprovalTimeline(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timeline, err := s.history.ApprovalTimeline(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query timeline: %v", err)
		return
	}
	if timeline == nil {
		timeline = []gate.ApprovalEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timeline": timeline,
		"count":    len(timeline),
	})
}

// writeResolveError maps approval resolution errors to HTTP statuses.
func writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, gate.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, gate.ErrNotVerified):
		writeError(w, http.StatusForbidden, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}
