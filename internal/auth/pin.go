package auth

// Package auth implements the PIN credential verifier used as the lowest
// authentication tier of the approval surface. PINs are stored as salted
// PBKDF2 hashes; repeated failures impose a time-bounded lockout.

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aeonsage/aeonsage/internal/metrics"
)

const (
	pinMinLength = 4
	pinMaxLength = 8

	// MaxAttempts is the consecutive-failure threshold that triggers lockout.
	MaxAttempts = 5

	// LockoutWindow is how long the credential stays locked after
	// MaxAttempts consecutive failures.
	LockoutWindow = 5 * time.Minute

	hashIterations = 120_000
	hashKeyLength  = 64
	saltLength     = 16
)

var (
	// ErrInvalidPin is returned for PINs outside 4-8 digits.
	ErrInvalidPin = errors.New("pin must be 4-8 digits")

	// ErrNoPinSet is returned when no credential has been configured.
	ErrNoPinSet = errors.New("no pin has been set")
)

// Credential is the persisted secret record. The raw PIN is never persisted
// or logged.
type Credential struct {
	Hash        string     `json:"hash"`
	Salt        string     `json:"salt"`
	CreatedAt   time.Time  `json:"created_at"`
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// CredentialStore persists the single PIN credential record.
type CredentialStore interface {
	// LoadCredential reads the stored credential. Returns nil, nil when no
	// PIN has been set.
	LoadCredential(ctx context.Context) (*Credential, error)

	// SaveCredential writes the credential record.
	SaveCredential(ctx context.Context, cred *Credential) error

	// ClearCredential removes the stored credential.
	ClearCredential(ctx context.Context) error
}

// VerifyResult is the outcome of a verification attempt. A lockout is a
// recoverable, time-bounded denial carrying the exact unlock deadline.
type VerifyResult struct {
	OK                bool       `json:"ok"`
	AttemptsRemaining int        `json:"attempts_remaining,omitempty"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// PinAuthenticator verifies PIN credentials with brute-force lockout. All
// credential mutations are serialized behind a single mutex.
type PinAuthenticator struct {
	mu     sync.Mutex
	store  CredentialStore
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewPinAuthenticator wires a verifier to its credential store. A nil clock
// or logger falls back to the real clock and a no-op logger.
func NewPinAuthenticator(store CredentialStore, clock clockwork.Clock, logger *zap.Logger) *PinAuthenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PinAuthenticator{store: store, clock: clock, logger: logger}
}

// SetPin validates and stores a new PIN, discarding any prior credential and
// lockout state.
func (p *PinAuthenticator) SetPin(ctx context.Context, pin string) error {
	if err := validatePin(pin); err != nil {
		return err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	cred := &Credential{
		Hash:      hex.EncodeToString(derive(pin, salt)),
		Salt:      hex.EncodeToString(salt),
		CreatedAt: p.clock.Now().UTC(),
		Attempts:  0,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	p.logger.Info("pin credential set")
	return nil
}

// Verify checks a candidate PIN against the stored credential.
//
// An active lockout denies without consuming an attempt and carries the
// unlock deadline. A failure at the exact lockout boundary instant is treated
// as "lockout expired". On the fifth consecutive mismatch a 5-minute lockout
// is imposed.
func (p *PinAuthenticator) Verify(ctx context.Context, pin string) (VerifyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, err := p.store.LoadCredential(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return VerifyResult{}, ErrNoPinSet
	}

	now := p.clock.Now()
	if cred.LockedUntil != nil {
		if now.Before(*cred.LockedUntil) {
			metrics.PinVerificationsTotal.WithLabelValues("locked").Inc()
			deadline := *cred.LockedUntil
			return VerifyResult{OK: false, LockedUntil: &deadline}, nil
		}
		// Lockout window elapsed: clear it and start a fresh attempt budget.
		cred.LockedUntil = nil
		cred.Attempts = 0
	}

	salt, err := hex.DecodeString(cred.Salt)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("corrupt credential salt: %w", err)
	}
	stored, err := hex.DecodeString(cred.Hash)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("corrupt credential hash: %w", err)
	}

	if subtle.ConstantTimeCompare(derive(pin, salt), stored) == 1 {
		cred.Attempts = 0
		cred.LockedUntil = nil
		p.persist(ctx, cred)
		metrics.PinVerificationsTotal.WithLabelValues("ok").Inc()
		return VerifyResult{OK: true}, nil
	}

	cred.Attempts++
	if cred.Attempts >= MaxAttempts {
		deadline := now.Add(LockoutWindow).UTC()
		cred.LockedUntil = &deadline
		p.persist(ctx, cred)
		metrics.PinVerificationsTotal.WithLabelValues("mismatch").Inc()
		metrics.PinLockoutsTotal.Inc()
		p.logger.Warn("pin credential locked after repeated failures",
			zap.Time("locked_until", deadline),
		)
		return VerifyResult{OK: false, LockedUntil: &deadline}, nil
	}

	p.persist(ctx, cred)
	metrics.PinVerificationsTotal.WithLabelValues("mismatch").Inc()
	return VerifyResult{OK: false, AttemptsRemaining: MaxAttempts - cred.Attempts}, nil
}

// ChangePin replaces the PIN after verifying the current one.
func (p *PinAuthenticator) ChangePin(ctx context.Context, oldPin, newPin string) error {
	result, err := p.Verify(ctx, oldPin)
	if err != nil {
		return err
	}
	if !result.OK {
		if result.LockedUntil != nil {
			return fmt.Errorf("pin locked until %s", result.LockedUntil.Format(time.RFC3339))
		}
		return fmt.Errorf("current pin is incorrect")
	}
	return p.SetPin(ctx, newPin)
}

// ResetPin unconditionally clears the stored credential.
func (p *PinAuthenticator) ResetPin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.ClearCredential(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	p.logger.Info("pin credential cleared")
	return nil
}

// IsSet reports whether a PIN credential exists.
func (p *PinAuthenticator) IsSet(ctx context.Context) (bool, error) {
	cred, err := p.store.LoadCredential(ctx)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

// persist writes attempt-counter mutations; failures are logged, not
// surfaced, so a flaky disk cannot turn a verification into an error.
func (p *PinAuthenticator) persist(ctx context.Context, cred *Credential) {
	if err := p.store.SaveCredential(ctx, cred); err != nil {
		p.logger.Error("failed to persist credential state", zap.Error(err))
	}
}

func validatePin(pin string) error {
	if len(pin) < pinMinLength || len(pin) > pinMaxLength {
		return ErrInvalidPin
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPin
		}
	}
	return nil
}

func derive(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, hashIterations, hashKeyLength, sha512.New)
}
