package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNoCredentials means the user must (re-)enter brokerage credentials.
	ErrNoCredentials = fmt.Errorf("no credentials: %w", ErrNotFound)
	// ErrDecryption means a stored credential failed authentication (tampering or wrong key).
	ErrDecryption = errors.New("credential decryption failed")

	// ErrAuthentication means the brokerage rejected the credentials. Never retried automatically.
	ErrAuthentication = errors.New("brokerage authentication failed")
	// ErrTransientRemote covers network failures and timeouts; retried with backoff.
	ErrTransientRemote = errors.New("transient remote error")
	// ErrReconnectExhausted is returned once the reconnect retry budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotConnected means the user has no live session and must connect explicitly.
	ErrNotConnected = errors.New("brokerage not connected")
	// ErrCancelled means a connect attempt was superseded by a disconnect.
	ErrCancelled = errors.New("connect cancelled by disconnect")
)

// TickFailure wraps an error or panic raised by a scheduled task.
type TickFailure struct {
	Err   error
	Panic any
}

func (f *TickFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("tick failed: panic: %v", f.Panic)
	}
	return "tick failed: " + f.Err.Error()
}

func (f *TickFailure) Unwrap() error { return f.Err }
