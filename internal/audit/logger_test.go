package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(&Config{Path: path, MaxSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func readAuditLog(t *testing.T, l Logger, path string) string {
	t.Helper()
	require.NoError(t, l.Sync())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(&Config{})
	assert.Error(t, err)
}

func TestLogDecision(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.LogDecision(ctx, "file_write", "file_write", true, `approved by gate "file_write"`))
	require.NoError(t, l.LogDecision(ctx, "wallet_transfer", "wallet_transfer", false, "requires approval"))

	out := readAuditLog(t, l, path)
	assert.Contains(t, out, "decision.checked")
	assert.Contains(t, out, "file_write")
	assert.Contains(t, out, `\"result\":\"success\"`)
	assert.Contains(t, out, `\"result\":\"denied\"`)
}

func TestLogApprovalLifecycle(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.LogApprovalRequested(ctx, "req-1", "shell_execute", "shell_execute"))
	require.NoError(t, l.LogApprovalResolved(ctx, "req-1", "shell_execute", "approved", "operator"))
	require.NoError(t, l.LogApprovalResolved(ctx, "req-2", "file_delete", "expired", ""))

	out := readAuditLog(t, l, path)
	assert.Contains(t, out, "approval.requested")
	assert.Contains(t, out, "approval.granted")
	assert.Contains(t, out, "approval.expired")
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "operator")
}

func TestPinEventsNeverContainRawPin(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.LogPinSet(ctx))
	require.NoError(t, l.LogPinVerified(ctx, false))
	require.NoError(t, l.LogPinLocked(ctx, time.Now().Add(5*time.Minute)))
	require.NoError(t, l.LogPinReset(ctx))

	out := readAuditLog(t, l, path)
	assert.Contains(t, out, "pin.set")
	assert.Contains(t, out, "pin.verified")
	assert.Contains(t, out, "pin.locked")
	assert.Contains(t, out, "pin.reset")
	assert.Contains(t, out, "locked_until")
}

func TestKillSwitchEvents(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.LogKillActivated(ctx, "incident response", "operator"))
	require.NoError(t, l.LogKillCleared(ctx))

	out := readAuditLog(t, l, path)
	assert.Contains(t, out, "killswitch.activated")
	assert.Contains(t, out, "killswitch.cleared")
	assert.Contains(t, out, "incident response")
}

func TestBufferFlushesWhenFull(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < flushThreshold; i++ {
		require.NoError(t, l.LogPinVerified(ctx, true))
	}

	// The threshold flush happens inside Log, before any Sync.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, flushThreshold, strings.Count(string(data), "pin.verified"))
}

func TestEventBuilder(t *testing.T) {
	ev := NewEvent(EventGateUpdated).
		WithCorrelationID("corr-1").
		WithActor("operator").
		WithOperation("shell_execute", "shell_execute").
		WithDescription("updated").
		WithResult(ResultSuccess).
		WithMetadata("enabled", false)

	assert.Equal(t, EventGateUpdated, ev.EventType)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.Equal(t, "operator", ev.Actor)
	assert.Equal(t, "shell_execute", ev.Operation)
	assert.Equal(t, ResultSuccess, ev.Result)
	assert.Equal(t, false, ev.Metadata["enabled"])
	assert.False(t, ev.Timestamp.IsZero())

	ev = NewEvent(EventPinVerified).WithError(errors.New("boom"), "verify_error")
	assert.Equal(t, ResultFailure, ev.Result)
	assert.Equal(t, "boom", ev.Error)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, _ := newTestLogger(t)
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
