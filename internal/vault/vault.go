// Package vault keeps brokerage credentials encrypted at rest.
//
// Blobs are sealed with XChaCha20-Poly1305 under a process-wide master key
// passed to New. Every write draws a fresh random 24-byte nonce, and the
// user id is bound as additional data so a blob copied to another user
// fails authentication.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// KeySize is the required master key length in bytes.
const KeySize = chacha20poly1305.KeySize

// BlobStore persists sealed credential records.
type BlobStore interface {
	PutCredential(ctx context.Context, rec domain.CredentialRecord) error
	GetCredential(ctx context.Context, userID int64) (domain.CredentialRecord, error)
	DeleteCredential(ctx context.Context, userID int64) error
}

// Vault encrypts and decrypts credentials. It is the only component that
// sees plaintext.
type Vault struct {
	blobs BlobStore
	log   *zap.Logger
	seal  func(nonce, plaintext, aad []byte) []byte
	open  func(nonce, ciphertext, aad []byte) ([]byte, error)
	now   func() time.Time
}

// New builds a vault around masterKey. The key is copied into the cipher
// state; callers may wipe their slice afterwards.
func New(masterKey []byte, blobs BlobStore, log *zap.Logger) (*Vault, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	if blobs == nil {
		return nil, errors.New("nil blob store")
	}
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Vault{
		blobs: blobs,
		log:   log.Named("vault"),
		seal: func(nonce, plaintext, aad []byte) []byte {
			return aead.Seal(nil, nonce, plaintext, aad)
		},
		open: func(nonce, ciphertext, aad []byte) ([]byte, error) {
			return aead.Open(nil, nonce, ciphertext, aad)
		},
		now: time.Now,
	}, nil
}

// Store seals creds for userID, replacing any previous record.
func (v *Vault) Store(ctx context.Context, userID int64, creds domain.Credentials) error {
	if creds.Empty() {
		return errors.New("username and password are required")
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return errors.New("encode credentials")
	}
	defer wipe(plain)

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	rec := domain.CredentialRecord{
		UserID:    userID,
		Blob:      v.seal(nonce, plain, aad(userID)),
		Nonce:     nonce,
		CreatedAt: v.now().UTC(),
	}
	if err := v.blobs.PutCredential(ctx, rec); err != nil {
		return fmt.Errorf("store credentials[%d]: %w", userID, err)
	}
	v.log.Info("credentials stored", zap.Int64("user_id", userID))
	return nil
}

// Retrieve returns the plaintext credentials for userID.
// It fails with domain.ErrNoCredentials when nothing is stored and with
// domain.ErrDecryption when the record does not authenticate.
func (v *Vault) Retrieve(ctx context.Context, userID int64) (domain.Credentials, error) {
	rec, err := v.blobs.GetCredential(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load credentials[%d]: %w", userID, err)
	}

	if len(rec.Nonce) != chacha20poly1305.NonceSizeX {
		return domain.Credentials{}, fmt.Errorf("%w: user %d: bad nonce length", domain.ErrDecryption, userID)
	}
	plain, err := v.open(rec.Nonce, rec.Blob, aad(userID))
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: user %d", domain.ErrDecryption, userID)
	}
	defer wipe(plain)

	var creds domain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: user %d: malformed payload", domain.ErrDecryption, userID)
	}
	return creds, nil
}

// Has reports whether a record exists, without decrypting it.
func (v *Vault) Has(ctx context.Context, userID int64) (bool, error) {
	_, err := v.blobs.GetCredential(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("load credentials[%d]: %w", userID, err)
	}
	return true, nil
}

// Delete removes the user's record. Deleting a missing record succeeds.
func (v *Vault) Delete(ctx context.Context, userID int64) error {
	if err := v.blobs.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("delete credentials[%d]: %w", userID, err)
	}
	v.log.Info("credentials deleted", zap.Int64("user_id", userID))
	return nil
}

func aad(userID int64) []byte {
	return []byte("user:" + strconv.FormatInt(userID, 10))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
