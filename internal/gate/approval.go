package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeonsage/aeonsage/internal/events"
	"github.com/aeonsage/aeonsage/internal/metrics"
	"github.com/aeonsage/aeonsage/internal/sentinel"
)

// ApprovalStatus is the lifecycle state of an approval request. All states
// other than pending are terminal.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusExpired  ApprovalStatus = "expired"
)

var (
	// ErrRequestNotFound is returned for an unknown approval request id.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrAlreadyResolved is returned when a request has already left the
	// pending state. Losing a resolution race surfaces as this error, never
	// as a crash or a silent overwrite.
	ErrAlreadyResolved = errors.New("approval request already resolved")

	// ErrNotVerified is returned when approval evidence is not verified.
	ErrNotVerified = errors.New("authentication evidence not verified")
)

// ApprovalRequest is a single pending-decision instance.
type ApprovalRequest struct {
	ID         string           `json:"id"`
	Gate       Gate             `json:"gate"`
	Operation  string           `json:"operation"`
	Details    map[string]any   `json:"details,omitempty"`
	Threat     *sentinel.Report `json:"threat_report,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	Status     ApprovalStatus   `json:"status"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
	Method     AuthMethod       `json:"method,omitempty"`
}

// AuthEvidence is the verified out-of-band authentication result handed in
// by the external approval surface.
type AuthEvidence struct {
	Method   AuthMethod `json:"method"`
	Verified bool       `json:"verified"`
	By       string     `json:"by,omitempty"`
}

// CreateApprovalRequest registers a pending request for the given gate and
// operation and schedules its expiration. The returned value is a snapshot.
func (m *Manager) CreateApprovalRequest(ctx context.Context, g Gate, operation string, details map[string]any, threat *sentinel.Report) ApprovalRequest {
	now := m.clock.Now().UTC()
	req := &ApprovalRequest{
		ID:        uuid.NewString(),
		Gate:      g,
		Operation: operation,
		Details:   details,
		Threat:    threat,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
		Status:    StatusPending,
	}

	m.mu.Lock()
	m.approvals[req.ID] = req
	m.mu.Unlock()

	// The expiration timer holds no lock while waiting and only flips
	// pending → expired; a resolution that lands first makes it a no-op.
	m.clock.AfterFunc(m.timeout, func() {
		m.expire(context.Background(), req.ID)
	})

	metrics.ApprovalsCreatedTotal.Inc()
	m.recordApprovalEvent(ctx, req, "")
	m.publish(events.ApprovalRequested, map[string]any{
		"request_id": req.ID,
		"gate_id":    g.ID,
		"operation":  operation,
		"expires_at": req.ExpiresAt,
	})
	m.logger.Info("approval requested",
		zap.String("request_id", req.ID),
		zap.String("gate", g.ID),
		zap.String("operation", operation),
	)
	return *req
}

// ApproveRequest resolves a pending request with verified authentication
// evidence. It fails if the request is missing, already resolved, expired,
// or the evidence is not verified.
func (m *Manager) ApproveRequest(ctx context.Context, id string, ev AuthEvidence) error {
	m.mu.Lock()
	req, ok := m.approvals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if req.Status == StatusPending && !m.clock.Now().Before(req.ExpiresAt) {
		// Deadline passed but the timer has not fired yet.
		req.Status = StatusExpired
		snapshot := *req
		m.mu.Unlock()
		m.finishExpired(ctx, snapshot)
		return fmt.Errorf("%w: %s is already %s", ErrAlreadyResolved, id, StatusExpired)
	}
	if req.Status != StatusPending {
		status := req.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is already %s", ErrAlreadyResolved, id, status)
	}
	if !ev.Verified {
		m.mu.Unlock()
		return fmt.Errorf("%w (method %s)", ErrNotVerified, ev.Method)
	}
	req.Status = StatusApproved
	req.ResolvedBy = ev.By
	req.Method = ev.Method
	snapshot := *req
	m.mu.Unlock()

	metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusApproved)).Inc()
	metrics.ApprovalResolutionSeconds.Observe(m.clock.Now().Sub(snapshot.CreatedAt).Seconds())
	m.recordApprovalEvent(ctx, &snapshot, ev.By)
	m.publish(events.ApprovalGranted, map[string]any{
		"request_id": snapshot.ID,
		"gate_id":    snapshot.Gate.ID,
		"operation":  snapshot.Operation,
		"method":     string(ev.Method),
	})
	m.logger.Info("approval granted",
		zap.String("request_id", snapshot.ID),
		zap.String("method", string(ev.Method)),
	)
	return nil
}

// DenyRequest resolves a pending request as denied.
func (m *Manager) DenyRequest(ctx context.Context, id, by string) error {
	m.mu.Lock()
	req, ok := m.approvals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if req.Status == StatusPending && !m.clock.Now().Before(req.ExpiresAt) {
		// Deadline passed but the timer has not fired yet.
		req.Status = StatusExpired
		snapshot := *req
		m.mu.Unlock()
		m.finishExpired(ctx, snapshot)
		return fmt.Errorf("%w: %s is already %s", ErrAlreadyResolved, id, StatusExpired)
	}
	if req.Status != StatusPending {
		status := req.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is already %s", ErrAlreadyResolved, id, status)
	}
	req.Status = StatusDenied
	req.ResolvedBy = by
	snapshot := *req
	m.mu.Unlock()

	metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusDenied)).Inc()
	metrics.ApprovalResolutionSeconds.Observe(m.clock.Now().Sub(snapshot.CreatedAt).Seconds())
	m.recordApprovalEvent(ctx, &snapshot, by)
	m.publish(events.ApprovalDenied, map[string]any{
		"request_id": snapshot.ID,
		"gate_id":    snapshot.Gate.ID,
		"operation":  snapshot.Operation,
	})
	m.logger.Info("approval denied", zap.String("request_id", snapshot.ID), zap.String("by", by))
	return nil
}

// GetApproval returns a snapshot of the request with the given id.
func (m *Manager) GetApproval(id string) (ApprovalRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok {
		return ApprovalRequest{}, false
	}
	return *req, true
}

// GetPendingApprovals returns snapshots of all pending requests, oldest first.
func (m *Manager) GetPendingApprovals() []ApprovalRequest {
	m.mu.Lock()
	out := make([]ApprovalRequest, 0, len(m.approvals))
	for _, req := range m.approvals {
		if req.Status == StatusPending {
			out = append(out, *req)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// expire is the timer callback: an atomic compare-and-set that only flips
// pending → expired. A request resolved first makes this a no-op.
func (m *Manager) expire(ctx context.Context, id string) {
	m.mu.Lock()
	req, ok := m.approvals[id]
	if !ok || req.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	req.Status = StatusExpired
	snapshot := *req
	m.mu.Unlock()

	m.finishExpired(ctx, snapshot)
}

func (m *Manager) finishExpired(ctx context.Context, snapshot ApprovalRequest) {
	metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusExpired)).Inc()
	m.recordApprovalEvent(ctx, &snapshot, "")
	m.publish(events.ApprovalExpired, map[string]any{
		"request_id": snapshot.ID,
		"gate_id":    snapshot.Gate.ID,
		"operation":  snapshot.Operation,
	})
	m.logger.Info("approval expired",
		zap.String("request_id", snapshot.ID),
		zap.String("operation", snapshot.Operation),
	)
}

func (m *Manager) recordApprovalEvent(ctx context.Context, req *ApprovalRequest, actor string) {
	if m.history == nil {
		return
	}
	ev := ApprovalEvent{
		RequestID: req.ID,
		GateID:    req.Gate.ID,
		Operation: req.Operation,
		Status:    req.Status,
		Actor:     actor,
		Method:    req.Method,
		CreatedAt: m.clock.Now().UTC(),
	}
	if err := m.history.RecordApprovalEvent(ctx, ev); err != nil {
		m.logger.Error("failed to record approval event", zap.Error(err))
	}
}
