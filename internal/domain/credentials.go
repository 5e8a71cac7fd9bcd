package domain

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Credentials are brokerage login credentials in plaintext form. They exist
// only in memory; String and MarshalLogObject never reveal the password.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Empty reports whether either field is missing.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

func (c Credentials) String() string {
	return "Credentials{username:" + c.Username + ", password:[redacted]}"
}

// GoString keeps %#v from printing the password.
func (c Credentials) GoString() string {
	return c.String()
}

func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.Username)
	enc.AddString("password", "[redacted]")
	return nil
}

// CredentialRecord is the at-rest form of Credentials.
type CredentialRecord struct {
	UserID    int64
	Blob      []byte // ciphertext with authentication tag
	Nonce     []byte
	CreatedAt time.Time // UTC
}
