package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// KVBlobStore keeps sealed credential records in a HashiCorp Vault KV v2
// mount. Only ciphertext and nonce leave the process; the master key stays local.
type KVBlobStore struct {
	client *api.Client
	mount  string
	prefix string
}

// NewKVBlobStore connects to addr with token. mount is the KV v2 mount
// ("secret" by default).
func NewKVBlobStore(addr, token, mount string) (*KVBlobStore, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(token)

	if mount == "" {
		mount = "secret"
	}
	return &KVBlobStore{client: client, mount: mount, prefix: "insider-bot/credentials"}, nil
}

func (s *KVBlobStore) dataPath(userID int64) string {
	return fmt.Sprintf("%s/data/%s/%d", s.mount, s.prefix, userID)
}

func (s *KVBlobStore) metadataPath(userID int64) string {
	return fmt.Sprintf("%s/metadata/%s/%d", s.mount, s.prefix, userID)
}

func (s *KVBlobStore) PutCredential(ctx context.Context, rec domain.CredentialRecord) error {
	secret := map[string]interface{}{
		"data": map[string]interface{}{
			"blob":       base64.StdEncoding.EncodeToString(rec.Blob),
			"nonce":      base64.StdEncoding.EncodeToString(rec.Nonce),
			"created_at": strconv.FormatInt(rec.CreatedAt.UTC().Unix(), 10),
		},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(rec.UserID), secret); err != nil {
		return fmt.Errorf("vault write: %w", err)
	}
	return nil
}

func (s *KVBlobStore) GetCredential(ctx context.Context, userID int64) (domain.CredentialRecord, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(userID))
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("vault read: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		// soft-deleted versions come back with data: null
		return domain.CredentialRecord{}, domain.ErrNotFound
	}

	blob, err := decodeField(data, "blob")
	if err != nil {
		return domain.CredentialRecord{}, err
	}
	nonce, err := decodeField(data, "nonce")
	if err != nil {
		return domain.CredentialRecord{}, err
	}
	rec := domain.CredentialRecord{UserID: userID, Blob: blob, Nonce: nonce}
	if s, ok := data["created_at"].(string); ok {
		if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
			rec.CreatedAt = time.Unix(sec, 0).UTC()
		}
	}
	return rec, nil
}

func (s *KVBlobStore) DeleteCredential(ctx context.Context, userID int64) error {
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(userID)); err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}

func decodeField(data map[string]interface{}, key string) ([]byte, error) {
	s, ok := data[key].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret: missing %s", key)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vault secret: bad %s: %w", key, err)
	}
	return b, nil
}
