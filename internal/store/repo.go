package store

import (
	"context"
	"time"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// UserRepo stores chat subscribers.
type UserRepo interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	ListSubscribed(ctx context.Context) ([]domain.User, error)
	ListAdmins(ctx context.Context) ([]domain.User, error)
	SetSubscribed(ctx context.Context, chatID int64, subscribed bool) error
	CountUsers(ctx context.Context) (total, subscribed int, err error)
}

// CredentialRepo stores encrypted credential blobs. Only the vault uses it.
type CredentialRepo interface {
	PutCredential(ctx context.Context, rec domain.CredentialRecord) error
	GetCredential(ctx context.Context, userID int64) (domain.CredentialRecord, error)
	DeleteCredential(ctx context.Context, userID int64) error
}

// SessionRepo persists brokerage session records, one per user.
type SessionRepo interface {
	SaveSession(ctx context.Context, rec domain.SessionRecord) error
	// LoadSession returns nil, nil when the user has no record.
	LoadSession(ctx context.Context, userID int64) (*domain.SessionRecord, error)
	InvalidateSession(ctx context.Context, userID int64) error
	ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.SessionRecord, error)
}

// EventRepo stores analysis events.
type EventRepo interface {
	// SaveEvent reports whether the event was new.
	SaveEvent(ctx context.Context, ev domain.AnalysisEvent) (bool, error)
	ListEventsSince(ctx context.Context, since time.Time) ([]domain.AnalysisEvent, error)
}

// DeliveryRepo tracks which events reached which users.
type DeliveryRepo interface {
	DeliveredUsers(ctx context.Context, eventID string) (map[int64]struct{}, error)
	// InsertDelivery reports false when the record already existed.
	InsertDelivery(ctx context.Context, rec domain.DeliveryRecord) (bool, error)
}

// StateRepo reads and updates the system_state singleton.
type StateRepo interface {
	GetSystemState(ctx context.Context) (domain.SystemState, error)
	RecordTick(ctx context.Context, at time.Time) error
	SetConfigVersion(ctx context.Context, version string) error
	AcquireLease(ctx context.Context, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, holder string) error
}

// Repo is the full storage surface backed by one database.
type Repo interface {
	UserRepo
	CredentialRepo
	SessionRepo
	EventRepo
	DeliveryRepo
	StateRepo
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

var _ Repo = (*SQLiteRepo)(nil)
