// Package lock provides tick locks for the scheduler so that only one
// process runs the analysis cycle against shared state.
package lock

import (
	"context"
	"time"
)

// LeaseStore is the system_state lease API of the store.
type LeaseStore interface {
	AcquireLease(ctx context.Context, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, holder string) error
}

// Lease is a time-bounded lock kept in the database. An expired lease can be
// taken over, so a crashed holder blocks others for at most ttl.
type Lease struct {
	store  LeaseStore
	holder string
	ttl    time.Duration
	now    func() time.Time
}

func NewLease(store LeaseStore, holder string, ttl time.Duration) *Lease {
	return &Lease{store: store, holder: holder, ttl: ttl, now: time.Now}
}

func (l *Lease) TryLock(ctx context.Context) (bool, error) {
	return l.store.AcquireLease(ctx, l.holder, l.now(), l.ttl)
}

func (l *Lease) Unlock(ctx context.Context) error {
	return l.store.ReleaseLease(ctx, l.holder)
}

// Holder identifies this process.
func (l *Lease) Holder() string { return l.holder }
