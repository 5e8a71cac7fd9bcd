// Package config loads settings from the environment, after an optional .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const masterKeySize = 32

// Credential backends.
const (
	BackendSQLite    = "sqlite"
	BackendHashicorp = "hashicorp"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN" required:"true"`
	OwnerChatID int64  `envconfig:"OWNER_CHAT_ID"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	DBPath               string  `envconfig:"DB_PATH" default:"./data/insider.db"`
	CheckIntervalMinutes int     `envconfig:"CHECK_INTERVAL_MINUTES" default:"30"`
	FeedURL              string  `envconfig:"FEED_URL"`                            // empty -> built-in sample feed
	SendRatePerSec       float64 `envconfig:"SEND_RATE_PER_SEC" default:"25"`
	RedisAddr            string  `envconfig:"REDIS_ADDR"`                          // non-empty -> Redis scheduler lock

	// Brokerage
	EncryptionKey     string        `envconfig:"ENCRYPTION_KEY" required:"true"` // 32 raw bytes or 64 hex chars
	BrokerageUsername string        `envconfig:"BROKERAGE_USERNAME"`
	BrokeragePassword string        `envconfig:"BROKERAGE_PASSWORD"`
	CredentialBackend string        `envconfig:"CREDENTIAL_BACKEND" default:"sqlite"`
	VaultAddr         string        `envconfig:"VAULT_ADDR"`
	VaultToken        string        `envconfig:"VAULT_TOKEN"`
	VaultMount        string        `envconfig:"VAULT_MOUNT" default:"secret"`
	SessionFreshness  time.Duration `envconfig:"SESSION_FRESHNESS" default:"5m"`
	RemoteTimeout     time.Duration `envconfig:"REMOTE_TIMEOUT" default:"15s"`
	ReconnectBase     time.Duration `envconfig:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMax      time.Duration `envconfig:"RECONNECT_MAX_DELAY" default:"30s"`
	ReconnectAttempts int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`
	PortfolioRefresh  bool          `envconfig:"PORTFOLIO_REFRESH" default:"false"`
}

// Load reads an optional .env file, then environment variables into Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot express.
func (c Config) Validate() error {
	if _, err := c.MasterKey(); err != nil {
		return err
	}
	if c.CheckIntervalMinutes < 1 {
		return fmt.Errorf("CHECK_INTERVAL_MINUTES must be >= 1, got %d", c.CheckIntervalMinutes)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 1, got %d", c.ReconnectAttempts)
	}
	switch c.CredentialBackend {
	case BackendSQLite:
	case BackendHashicorp:
		if c.VaultAddr == "" || c.VaultToken == "" {
			return errors.New("CREDENTIAL_BACKEND=hashicorp requires VAULT_ADDR and VAULT_TOKEN")
		}
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q (want sqlite or hashicorp)", c.CredentialBackend)
	}
	if (c.BrokerageUsername == "") != (c.BrokeragePassword == "") {
		return errors.New("BROKERAGE_USERNAME and BROKERAGE_PASSWORD must be set together")
	}
	if c.BrokerageUsername != "" && c.OwnerChatID == 0 {
		return errors.New("BROKERAGE_USERNAME requires OWNER_CHAT_ID")
	}
	return nil
}

// MasterKey decodes ENCRYPTION_KEY: exactly 32 raw bytes or 64 hex characters.
func (c Config) MasterKey() ([]byte, error) {
	switch len(c.EncryptionKey) {
	case masterKeySize:
		return []byte(c.EncryptionKey), nil
	case 2 * masterKeySize:
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: invalid hex: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ENCRYPTION_KEY must be %d bytes or %d hex chars, got %d chars",
			masterKeySize, 2*masterKeySize, len(c.EncryptionKey))
	}
}

// Interval is the scheduler period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.CheckIntervalMinutes) * time.Minute
}

// SeedCredentials reports whether owner credentials come from the environment.
func (c Config) SeedCredentials() bool {
	return c.BrokerageUsername != "" && c.OwnerChatID != 0
}
