package killswitch

// Package killswitch implements the global emergency override. Once engaged,
// the policy gate denies every operation until the switch is cleared. Resume
// is deliberately reachable only from the CLI, never from the remote API.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/aeonsage/aeonsage/internal/events"
	"github.com/aeonsage/aeonsage/internal/metrics"
)

// State is the persisted override record.
type State struct {
	Killed   bool       `json:"killed"`
	KilledAt *time.Time `json:"killed_at,omitempty"`
	KilledBy string     `json:"killed_by,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// StateStore persists the kill-switch record.
type StateStore interface {
	// LoadState reads the persisted state. Returns nil, nil when nothing has
	// been persisted yet.
	LoadState(ctx context.Context) (*State, error)

	// SaveState writes the state record.
	SaveState(ctx context.Context, state *State) error
}

// Switch is the emergency override. Reads are cheap; mutations persist
// durably and a kill that cannot be persisted is reported as an error (an
// in-memory-only kill is a silent safety regression after a restart).
type Switch struct {
	mu     sync.RWMutex
	state  State
	store  StateStore
	clock  clockwork.Clock
	logger *zap.Logger
	bus    *events.Bus
}

// New loads any persisted state and returns the switch.
func New(ctx context.Context, store StateStore, clock clockwork.Clock, logger *zap.Logger, bus *events.Bus) (*Switch, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Switch{store: store, clock: clock, logger: logger, bus: bus}

	persisted, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load kill switch state: %w", err)
	}
	if persisted != nil {
		s.state = *persisted
	}
	if s.state.Killed {
		metrics.KillSwitchEngaged.Set(1)
		logger.Warn("kill switch is engaged from persisted state",
			zap.String("reason", s.state.Reason),
			zap.String("killed_by", s.state.KilledBy),
		)
	}
	return s, nil
}

// State returns a snapshot of the current state.
func (s *Switch) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Killed reports whether the override is engaged.
func (s *Switch) Killed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Killed
}

// Kill engages the override. Idempotent: killing an already-killed system
// refreshes the audit fields. The in-memory state flips even when
// persistence fails, but the persistence error is surfaced so callers know
// the kill will not survive a restart.
func (s *Switch) Kill(ctx context.Context, reason, by string) error {
	s.mu.Lock()
	now := s.clock.Now().UTC()
	s.state = State{
		Killed:   true,
		KilledAt: &now,
		KilledBy: by,
		Reason:   reason,
	}
	snapshot := s.state
	err := s.store.SaveState(ctx, &snapshot)
	s.mu.Unlock()

	metrics.KillSwitchEngaged.Set(1)
	s.logger.Warn("kill switch engaged", zap.String("reason", reason), zap.String("by", by))
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.KillActivated,
			Timestamp: now,
			Data:      map[string]any{"reason": reason, "by": by},
		})
	}
	if err != nil {
		return fmt.Errorf("persist kill switch state: %w", err)
	}
	return nil
}

// Resume clears the override and its audit fields. Resume is CLI-only for
// security: the HTTP surface never exposes it.
func (s *Switch) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.state = State{}
	snapshot := s.state
	err := s.store.SaveState(ctx, &snapshot)
	s.mu.Unlock()

	// Gauge and event track the in-memory flip, like Kill; the persistence
	// error is surfaced afterwards.
	metrics.KillSwitchEngaged.Set(0)
	s.logger.Info("kill switch cleared")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.KillCleared,
			Timestamp: s.clock.Now().UTC(),
		})
	}
	if err != nil {
		return fmt.Errorf("persist kill switch state: %w", err)
	}
	return nil
}
