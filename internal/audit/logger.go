package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogDecision logs the outcome of one authorization check
	LogDecision(ctx context.Context, operation, gateID string, allowed bool, message string) error

	// LogThreatDetected logs a threat scanner hit
	LogThreatDetected(ctx context.Context, operation, maxLevel string, score int) error

	// Approval lifecycle events
	LogApprovalRequested(ctx context.Context, requestID, operation, gateID string) error
	LogApprovalResolved(ctx context.Context, requestID, operation, status, actor string) error

	// Credential events. The raw PIN never appears in any audit record.
	LogPinSet(ctx context.Context) error
	LogPinVerified(ctx context.Context, ok bool) error
	LogPinLocked(ctx context.Context, until time.Time) error
	LogPinReset(ctx context.Context) error

	// Kill switch events
	LogKillActivated(ctx context.Context, reason, by string) error
	LogKillCleared(ctx context.Context) error

	// Gate configuration events
	LogGateUpdated(ctx context.Context, gateID string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the path to the audit log file
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Path:       "logs/audit.log",
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     90, // days
		Compress:   true,
	}
}

const flushThreshold = 100

// auditLogger implements the Logger interface. Events are buffered and
// flushed either when the buffer fills or once a second.
type auditLogger struct {
	out         *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger writing rotated JSON lines.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit records are append-only and always written at INFO.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	l := &auditLogger{
		out:         zap.New(core),
		config:      config,
		buffer:      make([]*Event, 0, flushThreshold),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go l.autoFlush()

	return l, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= flushThreshold {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.out.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.out.Info(string(eventJSON),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogDecision logs the outcome of one authorization check
func (l *auditLogger) LogDecision(ctx context.Context, operation, gateID string, allowed bool, message string) error {
	result := ResultDenied
	if allowed {
		result = ResultSuccess
	}
	event := NewEvent(EventOperationChecked).
		WithOperation(operation, gateID).
		WithResult(result).
		WithDescription(message)

	return l.Log(ctx, event)
}

// LogThreatDetected logs a threat scanner hit
func (l *auditLogger) LogThreatDetected(ctx context.Context, operation, maxLevel string, score int) error {
	event := NewEvent(EventThreatDetected).
		WithOperation(operation, "").
		WithResult(ResultDenied).
		WithMetadata("max_level", maxLevel).
		WithMetadata("score", score).
		WithDescription(fmt.Sprintf("Threat detected in %s payload (%s, score %d)", operation, maxLevel, score))

	return l.Log(ctx, event)
}

// LogApprovalRequested logs a new pending approval request
func (l *auditLogger) LogApprovalRequested(ctx context.Context, requestID, operation, gateID string) error {
	event := NewEvent(EventApprovalRequested).
		WithCorrelationID(requestID).
		WithOperation(operation, gateID).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Approval requested for %s", operation))

	return l.Log(ctx, event)
}

// LogApprovalResolved logs a terminal approval transition
func (l *auditLogger) LogApprovalResolved(ctx context.Context, requestID, operation, status, actor string) error {
	var eventType EventType
	var result Result
	switch status {
	case "approved":
		eventType, result = EventApprovalGranted, ResultSuccess
	case "denied":
		eventType, result = EventApprovalDenied, ResultDenied
	default:
		eventType, result = EventApprovalExpired, ResultFailure
	}

	event := NewEvent(eventType).
		WithCorrelationID(requestID).
		WithOperation(operation, "").
		WithActor(actor).
		WithResult(result).
		WithDescription(fmt.Sprintf("Approval %s %s", requestID, status))

	return l.Log(ctx, event)
}

// LogPinSet logs a successful credential change
func (l *auditLogger) LogPinSet(ctx context.Context) error {
	event := NewEvent(EventPinSet).
		WithResult(ResultSuccess).
		WithDescription("PIN credential set")

	return l.Log(ctx, event)
}

// LogPinVerified logs a verification attempt outcome
func (l *auditLogger) LogPinVerified(ctx context.Context, ok bool) error {
	result := ResultDenied
	desc := "PIN verification failed"
	if ok {
		result = ResultSuccess
		desc = "PIN verified"
	}
	event := NewEvent(EventPinVerified).
		WithResult(result).
		WithDescription(desc)

	return l.Log(ctx, event)
}

// LogPinLocked logs a lockout imposed after repeated failures
func (l *auditLogger) LogPinLocked(ctx context.Context, until time.Time) error {
	event := NewEvent(EventPinLocked).
		WithResult(ResultDenied).
		WithMetadata("locked_until", until.UTC().Format(time.RFC3339)).
		WithDescription("PIN credential locked after repeated failures")

	return l.Log(ctx, event)
}

// LogPinReset logs a credential reset
func (l *auditLogger) LogPinReset(ctx context.Context) error {
	event := NewEvent(EventPinReset).
		WithResult(ResultSuccess).
		WithDescription("PIN credential cleared")

	return l.Log(ctx, event)
}

// LogKillActivated logs the kill switch engaging
func (l *auditLogger) LogKillActivated(ctx context.Context, reason, by string) error {
	event := NewEvent(EventKillActivated).
		WithActor(by).
		WithResult(ResultSuccess).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Kill switch engaged: %s", reason))

	return l.Log(ctx, event)
}

// LogKillCleared logs the kill switch clearing
func (l *auditLogger) LogKillCleared(ctx context.Context) error {
	event := NewEvent(EventKillCleared).
		WithResult(ResultSuccess).
		WithDescription("Kill switch cleared")

	return l.Log(ctx, event)
}

// LogGateUpdated logs a gate configuration change
func (l *auditLogger) LogGateUpdated(ctx context.Context, gateID string) error {
	event := NewEvent(EventGateUpdated).
		WithOperation("", gateID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Gate %s updated", gateID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.out.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}
