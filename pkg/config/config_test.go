package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "/relay", cfg.Relay.CommandPrefix)
	assert.Equal(t, 60*time.Second, cfg.Relay.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Relay.ReplyIdle())
	assert.Equal(t, 1500*time.Millisecond, cfg.Relay.EditDebounce())
	assert.Equal(t, 5*time.Second, cfg.Relay.Cooldown())
	assert.Equal(t, 24*time.Hour, cfg.Relay.RetentionWindow())
	assert.Equal(t, 2*time.Minute, cfg.Relay.StaleRequestAge())
	assert.Equal(t, "@hourly", cfg.Relay.CleanupSchedule)
	assert.Equal(t, 18791, cfg.Gateway.Port)
	assert.False(t, cfg.Channels.Telegram.Enabled)
	assert.False(t, cfg.Channels.Discord.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"channels": {"telegram": {"enabled": true, "token": "tg-token"}},
		"relay": {"timeout_seconds": 30, "reply_idle_seconds": 1, "owner_id": "42"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "tg-token", cfg.Channels.Telegram.Token)
	assert.Equal(t, 30*time.Second, cfg.Relay.Timeout())
	assert.Equal(t, time.Second, cfg.Relay.ReplyIdle())
	assert.Equal(t, "42", cfg.Relay.OwnerID)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/relay", cfg.Relay.CommandPrefix)
	assert.InDelta(t, 1.5, cfg.Relay.EditDebounceSeconds, 0.0001)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"relay": {"timeout_seconds": 30}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	t.Setenv("TIMEOUT_SECONDS", "90")
	t.Setenv("REPLY_IDLE_SECONDS", "0.5")
	t.Setenv("RELAYCLAW_OWNER_ID", "env-owner")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Relay.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.ReplyIdle())
	assert.Equal(t, "env-owner", cfg.Relay.OwnerID)
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveTimings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Relay.TimeoutSeconds = 0 }},
		{"negative idle", func(c *Config) { c.Relay.ReplyIdleSeconds = -1 }},
		{"zero debounce", func(c *Config) { c.Relay.EditDebounceSeconds = 0 }},
		{"zero cleanup", func(c *Config) { c.Relay.CleanupHours = 0 }},
		{"empty prefix", func(c *Config) { c.Relay.CommandPrefix = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Relay.OwnerID = "7"
	cfg.Channels.Discord.Enabled = true
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7", loaded.Relay.OwnerID)
	assert.True(t, loaded.Channels.Discord.Enabled)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home+"/.relayclaw/data", expandHome("~/.relayclaw/data"))
	assert.Equal(t, "/var/lib/relayclaw", expandHome("/var/lib/relayclaw"))
	assert.Equal(t, "", expandHome(""))
}
