package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	r, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestMigrationsAreIdempotent(t *testing.T) {
	r := openTestRepo(t)
	require.NoError(t, RunMigrations(context.Background(), r.db))

	st, err := r.GetSystemState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.LastTickAt)
}

func TestUsers_UpsertGetList(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	for _, id := range []int64{3, 1, 2} {
		u := &domain.User{ChatID: id, Username: "u", Subscribed: id != 3, Prefs: domain.DefaultPreferences()}
		require.NoError(t, r.UpsertUser(ctx, u))
	}

	got, err := r.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Subscribed)
	assert.True(t, got.Prefs.NotifyBuys)
	assert.Equal(t, "UTC", got.Prefs.TZ)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = r.GetUser(ctx, 42)
	require.ErrorIs(t, err, domain.ErrNotFound)

	subs, err := r.ListSubscribed(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].ChatID)
	assert.Equal(t, int64(2), subs[1].ChatID)

	require.NoError(t, r.SetSubscribed(ctx, 2, false))
	total, subscribed, err := r.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, subscribed)

	require.ErrorIs(t, r.SetSubscribed(ctx, 99, true), domain.ErrNotFound)
}

func TestUsers_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	u := &domain.User{ChatID: 7, CreatedAt: created, Subscribed: true, Prefs: domain.DefaultPreferences()}
	require.NoError(t, r.UpsertUser(ctx, u))

	u2 := &domain.User{ChatID: 7, CreatedAt: time.Now(), IsAdmin: true, Prefs: domain.DefaultPreferences()}
	u2.Prefs.MinValue = 100_000
	require.NoError(t, r.UpsertUser(ctx, u2))

	got, err := r.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.True(t, got.IsAdmin)
	assert.Equal(t, 100_000.0, got.Prefs.MinValue)

	admins, err := r.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
}

func TestCredentials_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	_, err := r.GetCredential(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	rec := domain.CredentialRecord{UserID: 1, Blob: []byte{1, 2, 3}, Nonce: []byte{9}, CreatedAt: time.Now()}
	require.NoError(t, r.PutCredential(ctx, rec))
	rec.Blob = []byte{4, 5}
	require.NoError(t, r.PutCredential(ctx, rec))

	got, err := r.GetCredential(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, got.Blob)
	assert.Equal(t, []byte{9}, got.Nonce)

	require.NoError(t, r.DeleteCredential(ctx, 1))
	require.NoError(t, r.DeleteCredential(ctx, 1))
	_, err = r.GetCredential(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessions_SaveLoadInvalidate(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	rec, err := r.LoadSession(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// invalidating a user without a record is a no-op
	require.NoError(t, r.InvalidateSession(ctx, 5))

	validated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.SaveSession(ctx, domain.SessionRecord{
		UserID: 5, Token: "tok-1", Status: domain.StatusActive, LastValidatedAt: validated,
	}))
	require.NoError(t, r.SaveSession(ctx, domain.SessionRecord{
		UserID: 5, Token: "tok-2", Status: domain.StatusActive, LastValidatedAt: validated,
	}))

	rec, err = r.LoadSession(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tok-2", rec.Token)
	assert.Equal(t, validated, rec.LastValidatedAt)

	active, err := r.ListSessionsByStatus(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, r.InvalidateSession(ctx, 5))
	rec, err = r.LoadSession(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, rec.Status)
	assert.Empty(t, rec.Token)

	err = r.SaveSession(ctx, domain.SessionRecord{UserID: 6, Status: domain.StatusConnecting})
	require.Error(t, err)
}

func TestSessions_ConcurrentSavesSerialize(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.SaveSession(ctx, domain.SessionRecord{
				UserID: 1, Token: "t", Status: domain.StatusActive, LastValidatedAt: time.Now(),
			}))
		}()
	}
	wg.Wait()

	all, err := r.ListSessionsByStatus(ctx, domain.StatusActive)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEventsAndDeliveries(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := domain.NewAnalysisEvent(domain.InsiderTrade{
		Company: "ACME", Insider: "Jane Roe", TransactionDate: "2024-05-01",
		TransactionType: "Buy", Price: 12.5, Quantity: 1000, TotalValue: 12_500,
	}, now)

	inserted, err := r.SaveEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	changed := ev
	changed.Payload.Relationship = "CFO"
	inserted, err = r.SaveEvent(ctx, changed)
	require.NoError(t, err)
	assert.False(t, inserted, "events are immutable")

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Payload, got.Payload)

	evs, err := r.ListEventsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ok, err := r.InsertDelivery(ctx, domain.DeliveryRecord{EventID: ev.ID, UserID: 1, DeliveredAt: now})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.InsertDelivery(ctx, domain.DeliveryRecord{EventID: ev.ID, UserID: 1, DeliveredAt: now})
	require.NoError(t, err)
	assert.False(t, ok, "(event_id, user_id) is unique")

	delivered, err := r.DeliveredUsers(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{1: {}}, delivered)

	n, err := r.PruneBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = r.GetEvent(ctx, ev.ID)
	require.NoError(t, err, "event id survives retention")
	assert.Equal(t, domain.InsiderTrade{}, got.Payload)

	inserted, err = r.SaveEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted, "pruned events are still known")

	delivered, err = r.DeliveredUsers(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{1: {}}, delivered)

	n, err = r.PruneBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "already pruned")
}

func TestPruneBefore_DropsOnlyDisconnectedSessions(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	require.NoError(t, r.SaveSession(ctx, domain.SessionRecord{UserID: 1, Token: "t1", Status: domain.StatusActive}))
	require.NoError(t, r.SaveSession(ctx, domain.SessionRecord{UserID: 2, Token: "t2", Status: domain.StatusActive}))
	require.NoError(t, r.InvalidateSession(ctx, 2))

	n, err := r.PruneBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := r.LoadSession(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusActive, rec.Status)

	rec, err = r.LoadSession(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSystemState_TickAndLease(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordTick(ctx, now))
	require.NoError(t, r.SetConfigVersion(ctx, "v1"))
	st, err := r.GetSystemState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastTickAt)
	assert.Equal(t, now, *st.LastTickAt)
	assert.Equal(t, "v1", st.ConfigVersion)

	ok, err := r.AcquireLease(ctx, "a", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AcquireLease(ctx, "b", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease held by a")

	ok, err = r.AcquireLease(ctx, "a", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")

	ok, err = r.AcquireLease(ctx, "b", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	require.NoError(t, r.ReleaseLease(ctx, "a"))
	st, err = r.GetSystemState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", st.LockHolder, "release by a non-holder is ignored")

	require.NoError(t, r.ReleaseLease(ctx, "b"))
	st, err = r.GetSystemState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.LockHolder)
	assert.Nil(t, st.LockExpiresAt)
}
