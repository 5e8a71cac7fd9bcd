package domain

import "time"

// SessionStatus is the lifecycle state of a brokerage session.
type SessionStatus string

const (
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusConnecting   SessionStatus = "CONNECTING" // in-memory only, never persisted
	StatusActive       SessionStatus = "ACTIVE"
	StatusExpired      SessionStatus = "EXPIRED"
)

// SessionRecord is the persisted state of one user's brokerage session.
// At most one record exists per user; reconnecting supersedes it.
type SessionRecord struct {
	UserID          int64
	Token           string // opaque, brokerage-issued; never logged
	Status          SessionStatus
	LastValidatedAt time.Time // UTC
}

// FreshAt reports whether the record is ACTIVE and was validated within window.
func (r SessionRecord) FreshAt(now time.Time, window time.Duration) bool {
	return r.Status == StatusActive && now.Sub(r.LastValidatedAt) < window
}
