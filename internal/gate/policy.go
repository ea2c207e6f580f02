package gate

// Package gate implements the operation authorization policy engine. Every
// risk-bearing operation an agent attempts is checked against a configurable
// gate set; the threat scanner's verdict overrides configured policy for
// high-severity detections, and "ask" decisions spawn time-bounded approval
// requests resolved out of band.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/aeonsage/aeonsage/internal/events"
	"github.com/aeonsage/aeonsage/internal/metrics"
	"github.com/aeonsage/aeonsage/internal/sentinel"
)

// DefaultApprovalTimeout bounds how long an approval request stays pending.
const DefaultApprovalTimeout = 60 * time.Second

// Store persists the ordered gate set.
type Store interface {
	// LoadGates reads the persisted gate list. Returns nil, nil when nothing
	// has been persisted yet.
	LoadGates(ctx context.Context) ([]*Gate, error)

	// SaveGates writes the full ordered gate list.
	SaveGates(ctx context.Context, gates []*Gate) error
}

// History records authorization decisions and approval transitions for the
// audit timeline. Implementations must tolerate high call rates.
type History interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
	RecordApprovalEvent(ctx context.Context, ev ApprovalEvent) error
}

// KillQuery reports whether the emergency kill switch is engaged.
type KillQuery interface {
	Killed() bool
}

// Options configures a Manager. Store is required; everything else has a
// usable default.
type Options struct {
	Store           Store
	Scanner         *sentinel.Scanner
	Kill            KillQuery
	History         History
	Bus             *events.Bus
	Logger          *zap.Logger
	Clock           clockwork.Clock
	ApprovalTimeout time.Duration
}

// Manager is the policy gate. All state transitions are serialized behind a
// single mutex; CheckOperation performs no I/O beyond best-effort history
// recording and is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	gates     []*Gate
	approvals map[string]*ApprovalRequest

	store   Store
	scanner *sentinel.Scanner
	kill    KillQuery
	history History
	bus     *events.Bus
	logger  *zap.Logger
	clock   clockwork.Clock
	timeout time.Duration
}

// NewManager builds a Manager seeded from the built-in default gates overlaid
// with any records loaded from the store.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("gate: store is required")
	}
	if opts.Scanner == nil {
		opts.Scanner = sentinel.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}

	m := &Manager{
		gates:     DefaultGates(),
		approvals: make(map[string]*ApprovalRequest),
		store:     opts.Store,
		scanner:   opts.Scanner,
		kill:      opts.Kill,
		history:   opts.History,
		bus:       opts.Bus,
		logger:    opts.Logger,
		clock:     opts.Clock,
		timeout:   opts.ApprovalTimeout,
	}

	if err := m.ReloadFromStore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// ReloadFromStore re-applies persisted gate records over the built-in
// defaults. Loaded records replace defaults with the same id; unknown ids are
// appended in file order. Called at startup and on gates-file change.
func (m *Manager) ReloadFromStore(ctx context.Context) error {
	loaded, err := m.store.LoadGates(ctx)
	if err != nil {
		return fmt.Errorf("load gates: %w", err)
	}

	merged := DefaultGates()
	index := make(map[string]int, len(merged))
	for i, g := range merged {
		index[g.ID] = i
	}
	for _, g := range loaded {
		if err := g.validate(); err != nil {
			m.logger.Warn("skipping invalid persisted gate", zap.Error(err))
			continue
		}
		if i, ok := index[g.ID]; ok {
			merged[i] = g
		} else {
			index[g.ID] = len(merged)
			merged = append(merged, g)
		}
	}

	m.mu.Lock()
	m.gates = merged
	m.mu.Unlock()

	m.logger.Info("gate set loaded", zap.Int("gates", len(merged)), zap.Int("persisted", len(loaded)))
	return nil
}

// CheckOperation decides whether the named operation may proceed. The
// decision order is: kill switch, threat override, first matching enabled
// gate, fail-open.
//
// Unclassified operations are allowed: callers performing novel high-risk
// operations are responsible for registering a matching gate first.
func (m *Manager) CheckOperation(ctx context.Context, operation string, opCtx *Context) CheckResult {
	normalized := strings.ToLower(strings.TrimSpace(operation))

	if m.kill != nil && m.kill.Killed() {
		result := CheckResult{
			Allowed: false,
			Message: "emergency kill switch is active; all operations are denied",
		}
		m.recordDecision(ctx, normalized, result)
		return result
	}

	var threat *sentinel.Report
	if text := opCtx.scannable(); text != "" {
		start := m.clock.Now()
		report := m.scanner.Scan(text)
		metrics.ThreatScanDuration.Observe(m.clock.Since(start).Seconds())
		threat = &report
		if report.Detected {
			metrics.ThreatDetectionsTotal.WithLabelValues(string(report.MaxLevel)).Inc()
			m.publish(events.ThreatDetected, map[string]any{
				"operation": normalized,
				"max_level": string(report.MaxLevel),
				"score":     report.Score,
			})
		}
	}

	// Detected severity takes precedence over configured policy: a gate set
	// to auto-approve a category must not blind the system to an unrelated
	// threat signature inside that operation's payload.
	if threat != nil && threat.Detected && threat.MaxLevel.Rank() >= sentinel.LevelHigh.Rank() {
		result := CheckResult{
			Allowed:      false,
			Gate:         threatOverrideGate(),
			RequiresAuth: AuthBiometric,
			Message:      fmt.Sprintf("blocked: %s-severity threat detected in operation payload", threat.MaxLevel),
			Threat:       threat,
		}
		m.recordDecision(ctx, normalized, result)
		return result
	}

	m.mu.Lock()
	var matched *Gate
	for _, g := range m.gates {
		if g.Matches(normalized) {
			snapshot := *g
			matched = &snapshot
			break
		}
	}
	m.mu.Unlock()

	if matched == nil {
		result := CheckResult{
			Allowed: true,
			Message: "no gate configured for this operation",
			Threat:  threat,
		}
		m.recordDecision(ctx, normalized, result)
		return result
	}

	var result CheckResult
	switch matched.DefaultAction {
	case ActionApprove:
		// Sub-critical threat signal stays attached for caller visibility
		// but does not block.
		result = CheckResult{
			Allowed: true,
			Gate:    matched,
			Message: fmt.Sprintf("approved by gate %q", matched.ID),
			Threat:  threat,
		}
	case ActionDeny:
		result = CheckResult{
			Allowed: false,
			Gate:    matched,
			Message: fmt.Sprintf("denied by gate %q", matched.ID),
			Threat:  threat,
		}
	default: // ActionAsk
		result = CheckResult{
			Allowed:      false,
			Gate:         matched,
			RequiresAuth: AuthForRisk(matched.RiskLevel),
			Message:      fmt.Sprintf("gate %q requires approval (%s)", matched.ID, AuthForRisk(matched.RiskLevel)),
			Threat:       threat,
		}
	}

	m.recordDecision(ctx, normalized, result)
	return result
}

// AllGates returns copies of the gate set in evaluation order.
func (m *Manager) AllGates() []Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Gate, 0, len(m.gates))
	for _, g := range m.gates {
		out = append(out, *g)
	}
	return out
}

// GetGate returns a copy of the gate with the given id.
func (m *Manager) GetGate(id string) (Gate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.gates {
		if g.ID == id {
			return *g, true
		}
	}
	return Gate{}, false
}

// UpdateGate merges a partial update into the named gate and persists the
// gate set. Persistence failures are logged, not surfaced.
func (m *Manager) UpdateGate(ctx context.Context, id string, upd GateUpdate) (Gate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *Gate
	for _, g := range m.gates {
		if g.ID == id {
			target = g
			break
		}
	}
	if target == nil {
		return Gate{}, fmt.Errorf("gate not found: %s", id)
	}

	if upd.RiskLevel != nil && !upd.RiskLevel.valid() {
		return Gate{}, fmt.Errorf("invalid risk level %q", *upd.RiskLevel)
	}
	if upd.DefaultAction != nil && !upd.DefaultAction.valid() {
		return Gate{}, fmt.Errorf("invalid default action %q", *upd.DefaultAction)
	}

	if upd.Name != nil {
		target.Name = *upd.Name
	}
	if upd.Description != nil {
		target.Description = *upd.Description
	}
	if upd.RiskLevel != nil {
		target.RiskLevel = *upd.RiskLevel
	}
	if upd.Enabled != nil {
		target.Enabled = *upd.Enabled
	}
	if upd.DefaultAction != nil {
		target.DefaultAction = *upd.DefaultAction
	}
	if upd.Patterns != nil {
		target.Patterns = append([]string(nil), (*upd.Patterns)...)
	}

	m.persistLocked(ctx)
	m.publish(events.GateUpdated, map[string]any{"gate_id": id})
	return *target, nil
}

// SetGateEnabled toggles a gate on or off.
func (m *Manager) SetGateEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := m.UpdateGate(ctx, id, GateUpdate{Enabled: &enabled})
	return err
}

// ExportConfig serializes the full ordered gate set as JSON.
func (m *Manager) ExportConfig() ([]byte, error) {
	return json.MarshalIndent(m.AllGates(), "", "  ")
}

// ImportConfig replaces the gate set with the given JSON list and persists
// it. Invalid records fail the whole import; nothing is applied partially.
func (m *Manager) ImportConfig(ctx context.Context, data []byte) error {
	var incoming []*Gate
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("parse gate config: %w", err)
	}
	seen := make(map[string]bool, len(incoming))
	for _, g := range incoming {
		if err := g.validate(); err != nil {
			return err
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate gate id: %s", g.ID)
		}
		seen[g.ID] = true
	}

	m.mu.Lock()
	m.gates = incoming
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.publish(events.GateUpdated, map[string]any{"imported": len(incoming)})
	return nil
}

// persistLocked writes the gate set to the store. Caller holds m.mu.
func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.SaveGates(ctx, m.gates); err != nil {
		m.logger.Error("failed to persist gate set", zap.Error(err))
	}
}

func (m *Manager) recordDecision(ctx context.Context, operation string, result CheckResult) {
	decision := "deny"
	switch {
	case result.Allowed:
		decision = "allow"
	case result.RequiresAuth != "" && result.Gate != nil && result.Gate.ID != "threat_override":
		decision = "ask"
	}
	gateID := ""
	if result.Gate != nil {
		gateID = result.Gate.ID
	}
	metrics.GateChecksTotal.WithLabelValues(gateID, decision).Inc()

	if m.history == nil {
		return
	}
	rec := DecisionRecord{
		Operation:    operation,
		GateID:       gateID,
		Allowed:      result.Allowed,
		RequiresAuth: result.RequiresAuth,
		Message:      result.Message,
		CreatedAt:    m.clock.Now().UTC(),
	}
	if result.Threat != nil && result.Threat.Detected {
		rec.ThreatLevel = string(result.Threat.MaxLevel)
		rec.ThreatScore = result.Threat.Score
	}
	if err := m.history.RecordDecision(ctx, rec); err != nil {
		m.logger.Error("failed to record decision", zap.Error(err))
	}
}

func (m *Manager) publish(t events.Type, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: t, Timestamp: m.clock.Now().UTC(), Data: data})
}
