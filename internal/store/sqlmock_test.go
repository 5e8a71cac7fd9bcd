package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

func newMockRepo(t *testing.T) (*SQLiteRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepo(db), mock
}

func TestSaveSession_WrapsDriverError(t *testing.T) {
	r, mock := newMockRepo(t)
	boom := errors.New("disk I/O error")

	mock.ExpectExec("INSERT INTO sessions").WillReturnError(boom)

	err := r.SaveSession(context.Background(), domain.SessionRecord{
		UserID: 9, Token: "secret-token", Status: domain.StatusActive, LastValidatedAt: time.Now(),
	})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "save session[9]")
	require.NotContains(t, err.Error(), "secret-token")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDelivery_WrapsDriverError(t *testing.T) {
	r, mock := newMockRepo(t)
	boom := errors.New("database is locked")

	mock.ExpectExec("INSERT INTO deliveries").
		WithArgs("e1", int64(3), sqlmock.AnyArg()).
		WillReturnError(boom)

	ok, err := r.InsertDelivery(context.Background(), domain.DeliveryRecord{EventID: "e1", UserID: 3, DeliveredAt: time.Now()})
	require.False(t, ok)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneBefore_RollsBackOnError(t *testing.T) {
	r, mock := newMockRepo(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE events SET payload").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM sessions").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := r.PruneBefore(context.Background(), time.Now())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUser_MapsNoRowsToNotFound(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery("FROM users WHERE chat_id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"chat_id"}))

	_, err := r.GetUser(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
