package killswitch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeonsage/aeonsage/internal/events"
)

// memStateStore is an in-memory StateStore for tests.
type memStateStore struct {
	mu      sync.Mutex
	state   *State
	saveErr error
}

func (s *memStateStore) LoadState(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	snapshot := *s.state
	return &snapshot, nil
}

func (s *memStateStore) SaveState(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	snapshot := *state
	s.state = &snapshot
	return nil
}

func TestKillEngagesAndPersists(t *testing.T) {
	store := &memStateStore{}
	clock := clockwork.NewFakeClock()
	s, err := New(context.Background(), store, clock, nil, nil)
	require.NoError(t, err)
	assert.False(t, s.Killed())

	require.NoError(t, s.Kill(context.Background(), "compromised credentials", "operator"))

	assert.True(t, s.Killed())
	state := s.State()
	assert.Equal(t, "compromised credentials", state.Reason)
	assert.Equal(t, "operator", state.KilledBy)
	require.NotNil(t, state.KilledAt)
	assert.Equal(t, clock.Now().UTC(), *state.KilledAt)

	require.NotNil(t, store.state)
	assert.True(t, store.state.Killed)
}

func TestKillIsIdempotent(t *testing.T) {
	store := &memStateStore{}
	s, err := New(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Kill(context.Background(), "first", "a"))
	require.NoError(t, s.Kill(context.Background(), "second", "b"))

	assert.True(t, s.Killed())
	// The latest kill wins the audit fields.
	assert.Equal(t, "second", s.State().Reason)
	assert.Equal(t, "b", s.State().KilledBy)
}

func TestKillSurfacesPersistFailure(t *testing.T) {
	store := &memStateStore{saveErr: errors.New("disk full")}
	s, err := New(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)

	err = s.Kill(context.Background(), "incident", "operator")
	require.Error(t, err)

	// The in-memory switch still flips so the running process stops, even
	// though the kill will not survive a restart.
	assert.True(t, s.Killed())
}

func TestNewLoadsPersistedState(t *testing.T) {
	killedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &memStateStore{state: &State{
		Killed:   true,
		KilledAt: &killedAt,
		KilledBy: "operator",
		Reason:   "unresolved incident",
	}}

	s, err := New(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, s.Killed())
	assert.Equal(t, "unresolved incident", s.State().Reason)
}

func TestResumeClearsState(t *testing.T) {
	store := &memStateStore{}
	s, err := New(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Kill(context.Background(), "incident", "operator"))

	require.NoError(t, s.Resume(context.Background()))

	assert.False(t, s.Killed())
	state := s.State()
	assert.Empty(t, state.Reason)
	assert.Empty(t, state.KilledBy)
	assert.Nil(t, state.KilledAt)

	require.NotNil(t, store.state)
	assert.False(t, store.state.Killed)
}

func TestResumeSurfacesPersistFailure(t *testing.T) {
	store := &memStateStore{}
	s, err := New(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Kill(context.Background(), "incident", "operator"))

	store.saveErr = errors.New("disk full")
	err = s.Resume(context.Background())
	require.Error(t, err)
	assert.False(t, s.Killed())
}

func TestResumePublishesClearDespitePersistFailure(t *testing.T) {
	// The cleared event tracks the in-memory flip, not the persist outcome;
	// otherwise subscribers and metrics would disagree with Killed().
	store := &memStateStore{}
	bus := events.NewBus()
	defer bus.Close()
	s, err := New(context.Background(), store, nil, nil, bus)
	require.NoError(t, err)
	require.NoError(t, s.Kill(context.Background(), "incident", "operator"))

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	store.saveErr = errors.New("disk full")
	require.Error(t, s.Resume(context.Background()))
	assert.False(t, s.Killed())

	select {
	case ev := <-ch:
		assert.Equal(t, events.KillCleared, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("kill-cleared event was not published")
	}
}
