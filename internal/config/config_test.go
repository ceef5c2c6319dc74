package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := Load([]string{"--user_id=alice"})
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, 10*time.Second, cfg.Voice.CredentialTimeout)
	assert.Equal(t, 4, cfg.Voice.MaxPeers)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "silence", cfg.Media.Source)
	assert.True(t, cfg.Media.EchoCancellation)
	assert.Equal(t, 5, cfg.Chat.Burst)
}

func TestEnvAndFlagsOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("ROOMVOICE_USER_ID", "bob")
	t.Setenv("ROOMVOICE_VOICE__MAX_PEERS", "2")
	t.Setenv("ROOMVOICE_VOICE__CREDENTIAL_TIMEOUT", "3s")
	cfg, err := Load([]string{"--region=eu-west-1"})
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.UserID)
	assert.Equal(t, 2, cfg.Voice.MaxPeers)
	assert.Equal(t, 3*time.Second, cfg.Voice.CredentialTimeout)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestValidation(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	_, err := Load(nil)
	assert.Error(t, err, "user id is required")

	t.Setenv("ROOMVOICE_VOICE__MAX_PEERS", "0")
	_, err = Load([]string{"--user_id=alice"})
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}
