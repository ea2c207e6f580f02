package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCredentialStore is an in-memory CredentialStore for tests.
type memCredentialStore struct {
	mu      sync.Mutex
	cred    *Credential
	saveErr error
}

func (s *memCredentialStore) LoadCredential(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, nil
	}
	copy := *s.cred
	return &copy, nil
}

func (s *memCredentialStore) SaveCredential(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copy := *cred
	s.cred = &copy
	return nil
}

func (s *memCredentialStore) ClearCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

func TestSetPinValidation(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		pin  string
		err  error
	}{
		{"too short", "12", ErrInvalidPin},
		{"too long", "123456789", ErrInvalidPin},
		{"non-digit", "12a4", ErrInvalidPin},
		{"empty", "", ErrInvalidPin},
		{"minimum length", "1234", nil},
		{"maximum length", "12345678", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := p.SetPin(ctx, tc.pin)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetPinNeverStoresRawPin(t *testing.T) {
	store := &memCredentialStore{}
	p := NewPinAuthenticator(store, nil, nil)
	require.NoError(t, p.SetPin(context.Background(), "4812"))

	require.NotNil(t, store.cred)
	assert.NotContains(t, store.cred.Hash, "4812")
	assert.NotEmpty(t, store.cred.Salt)
	// PBKDF2-SHA512 with a 64-byte key, hex encoded.
	assert.Len(t, store.cred.Hash, 128)
}

func TestSetPinProducesUniqueSalts(t *testing.T) {
	storeA := &memCredentialStore{}
	storeB := &memCredentialStore{}
	require.NoError(t, NewPinAuthenticator(storeA, nil, nil).SetPin(context.Background(), "1234"))
	require.NoError(t, NewPinAuthenticator(storeB, nil, nil).SetPin(context.Background(), "1234"))

	assert.NotEqual(t, storeA.cred.Salt, storeB.cred.Salt)
	assert.NotEqual(t, storeA.cred.Hash, storeB.cred.Hash)
}

func TestVerifyNoPinSet(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)

	_, err := p.Verify(context.Background(), "1234")
	assert.ErrorIs(t, err, ErrNoPinSet)
}

func TestVerifyCorrectAndIncorrectPin(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	result, err := p.Verify(ctx, "4812")
	require.NoError(t, err)
	assert.True(t, result.OK)

	result, err = p.Verify(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, MaxAttempts-1, result.AttemptsRemaining)
	assert.Nil(t, result.LockedUntil)
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPinAuthenticator(&memCredentialStore{}, clock, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	var result VerifyResult
	var err error
	for i := 0; i < MaxAttempts; i++ {
		result, err = p.Verify(ctx, "0000")
		require.NoError(t, err)
		assert.False(t, result.OK)
	}
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, clock.Now().Add(LockoutWindow).UTC(), *result.LockedUntil)

	// The correct PIN is denied during the lockout window and no attempt is
	// consumed.
	result, err = p.Verify(ctx, "4812")
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.LockedUntil)
}

func TestLockoutExpiresAtBoundary(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPinAuthenticator(&memCredentialStore{}, clock, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	for i := 0; i < MaxAttempts; i++ {
		_, err := p.Verify(ctx, "0000")
		require.NoError(t, err)
	}

	// One nanosecond before the deadline: still locked.
	clock.Advance(LockoutWindow - time.Nanosecond)
	result, err := p.Verify(ctx, "4812")
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.LockedUntil)

	// At exactly the deadline the lockout is over and the attempt budget is
	// fresh.
	clock.Advance(time.Nanosecond)
	result, err = p.Verify(ctx, "4812")
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestLockoutExpiryResetsAttemptBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPinAuthenticator(&memCredentialStore{}, clock, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	for i := 0; i < MaxAttempts; i++ {
		_, err := p.Verify(ctx, "0000")
		require.NoError(t, err)
	}
	clock.Advance(LockoutWindow)

	// A failure after expiry starts a fresh count, not an immediate re-lock.
	result, err := p.Verify(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Nil(t, result.LockedUntil)
	assert.Equal(t, MaxAttempts-1, result.AttemptsRemaining)
}

func TestSuccessResetsAttemptCounter(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	for i := 0; i < MaxAttempts-1; i++ {
		_, err := p.Verify(ctx, "0000")
		require.NoError(t, err)
	}
	result, err := p.Verify(ctx, "4812")
	require.NoError(t, err)
	require.True(t, result.OK)

	// Counter is back to zero: the next failure reports a full budget.
	result, err = p.Verify(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, MaxAttempts-1, result.AttemptsRemaining)
}

func TestChangePin(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	err := p.ChangePin(ctx, "0000", "5678")
	assert.Error(t, err)

	require.NoError(t, p.ChangePin(ctx, "4812", "5678"))

	result, err := p.Verify(ctx, "5678")
	require.NoError(t, err)
	assert.True(t, result.OK)

	result, err = p.Verify(ctx, "4812")
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestResetPin(t *testing.T) {
	p := NewPinAuthenticator(&memCredentialStore{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.SetPin(ctx, "4812"))

	set, err := p.IsSet(ctx)
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, p.ResetPin(ctx))

	set, err = p.IsSet(ctx)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = p.Verify(ctx, "4812")
	assert.ErrorIs(t, err, ErrNoPinSet)
}

func TestSetPinSurfacesPersistFailure(t *testing.T) {
	store := &memCredentialStore{saveErr: errors.New("disk full")}
	p := NewPinAuthenticator(store, nil, nil)

	err := p.SetPin(context.Background(), "4812")
	assert.Error(t, err)
}
