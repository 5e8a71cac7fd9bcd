package vault

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

type memBlobs struct {
	mu   sync.Mutex
	recs map[int64]domain.CredentialRecord
}

func newMemBlobs() *memBlobs { return &memBlobs{recs: map[int64]domain.CredentialRecord{}} }

func (m *memBlobs) PutCredential(_ context.Context, rec domain.CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Blob = append([]byte(nil), rec.Blob...)
	rec.Nonce = append([]byte(nil), rec.Nonce...)
	m.recs[rec.UserID] = rec
	return nil
}

func (m *memBlobs) GetCredential(_ context.Context, userID int64) (domain.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[userID]
	if !ok {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memBlobs) DeleteCredential(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, userID)
	return nil
}

func testKey(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func newTestVault(t *testing.T, blobs BlobStore) *Vault {
	t.Helper()
	v, err := New(testKey(7), blobs, nil)
	require.NoError(t, err)
	return v
}

var alice = domain.Credentials{Username: "alice", Password: "s3cret-pass"}

func TestNew_RejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"), newMemBlobs(), nil)
	require.Error(t, err)
}

func TestStoreRetrieve_RoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	v := newTestVault(t, blobs)

	require.NoError(t, v.Store(ctx, 1, alice))
	got, err := v.Retrieve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	rec := blobs.recs[1]
	assert.NotContains(t, string(rec.Blob), alice.Password, "blob must be ciphertext")
}

func TestStore_FreshNoncePerWrite(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	v := newTestVault(t, blobs)

	require.NoError(t, v.Store(ctx, 1, alice))
	first := blobs.recs[1]
	require.NoError(t, v.Store(ctx, 1, alice))
	second := blobs.recs[1]

	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Blob, second.Blob)
}

func TestRetrieve_TamperedBlobFails(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	v := newTestVault(t, blobs)
	require.NoError(t, v.Store(ctx, 1, alice))

	rec := blobs.recs[1]
	rec.Blob[0] ^= 0x01
	blobs.recs[1] = rec

	_, err := v.Retrieve(ctx, 1)
	require.ErrorIs(t, err, domain.ErrDecryption)
	assert.NotContains(t, err.Error(), alice.Password)
}

func TestRetrieve_WrongKeyFails(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	require.NoError(t, newTestVault(t, blobs).Store(ctx, 1, alice))

	other, err := New(testKey(9), blobs, nil)
	require.NoError(t, err)
	_, err = other.Retrieve(ctx, 1)
	require.ErrorIs(t, err, domain.ErrDecryption)
}

func TestRetrieve_BlobBoundToUser(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	v := newTestVault(t, blobs)
	require.NoError(t, v.Store(ctx, 1, alice))

	moved := blobs.recs[1]
	moved.UserID = 2
	blobs.recs[2] = moved

	_, err := v.Retrieve(ctx, 2)
	require.ErrorIs(t, err, domain.ErrDecryption)
}

func TestRetrieve_MissingIsNoCredentials(t *testing.T) {
	v := newTestVault(t, newMemBlobs())

	_, err := v.Retrieve(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrNoCredentials)
	require.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := v.Has(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, newMemBlobs())
	require.NoError(t, v.Store(ctx, 1, alice))

	require.NoError(t, v.Delete(ctx, 1))
	require.NoError(t, v.Delete(ctx, 1))
	_, err := v.Retrieve(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestStore_RejectsEmpty(t *testing.T) {
	v := newTestVault(t, newMemBlobs())
	err := v.Store(context.Background(), 1, domain.Credentials{Username: "bob"})
	require.Error(t, err)
}

type failingBlobs struct{ memBlobs }

func (*failingBlobs) GetCredential(context.Context, int64) (domain.CredentialRecord, error) {
	return domain.CredentialRecord{}, errors.New("disk on fire")
}

func TestRetrieve_StoreErrorIsNotNoCredentials(t *testing.T) {
	v := newTestVault(t, &failingBlobs{})
	_, err := v.Retrieve(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNoCredentials))
	assert.True(t, strings.Contains(err.Error(), "disk on fire"))
}
