package domain

import "time"

// SystemState is the singleton row read at startup to resume scheduling.
type SystemState struct {
	LastTickAt    *time.Time // UTC, nil before the first tick
	LockHolder    string
	LockExpiresAt *time.Time
	ConfigVersion string
}
