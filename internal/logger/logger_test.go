package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	for level, want := range map[string]zap.AtomicLevel{
		"debug": zap.NewAtomicLevelAt(zap.DebugLevel),
		"WARN":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"bogus": zap.NewAtomicLevelAt(zap.ErrorLevel),
	} {
		log, err := New(level)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(want.Level()), level)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("super-secret-token")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("super-secret-token"))
	assert.Empty(t, Fingerprint(""))
}
