package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Relay    RelayConfig    `json:"relay"`
	Gateway  GatewayConfig  `json:"gateway"`
	Store    StoreConfig    `json:"store"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token" env:"RELAYCLAW_TELEGRAM_TOKEN"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token" env:"RELAYCLAW_DISCORD_TOKEN"`
}

// RelayConfig holds the relay/mirror tunables. The duration fields are
// expressed in seconds to match the environment variable surface
// (TIMEOUT_SECONDS etc.); use the accessor methods for time.Duration values.
type RelayConfig struct {
	CommandPrefix       string  `json:"command_prefix"`
	OwnerID             string  `json:"owner_id" env:"RELAYCLAW_OWNER_ID"`
	TimeoutSeconds      float64 `json:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	ReplyIdleSeconds    float64 `json:"reply_idle_seconds" env:"REPLY_IDLE_SECONDS"`
	EditDebounceSeconds float64 `json:"edit_debounce_seconds" env:"EDIT_DEBOUNCE_SECONDS"`
	CooldownSeconds     float64 `json:"cooldown_seconds"`
	CleanupHours        int     `json:"cleanup_hours" env:"CLEANUP_HOURS"`
	CleanupSchedule     string  `json:"cleanup_schedule"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"RELAYCLAW_GATEWAY_HOST"`
	Port int    `json:"port" env:"RELAYCLAW_GATEWAY_PORT"`
}

type StoreConfig struct {
	DataDir string `json:"data_dir" env:"RELAYCLAW_DATA_DIR"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{},
		Relay: RelayConfig{
			CommandPrefix:       "/relay",
			TimeoutSeconds:      60,
			ReplyIdleSeconds:    2,
			EditDebounceSeconds: 1.5,
			CooldownSeconds:     5,
			CleanupHours:        24,
			CleanupSchedule:     "@hourly",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Store: StoreConfig{
			DataDir: "~/.relayclaw/data",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects non-positive timing values; the relay loop relies on
// every window being a real duration.
func (c *Config) Validate() error {
	r := c.Relay
	if r.TimeoutSeconds <= 0 {
		return fmt.Errorf("relay.timeout_seconds must be positive, got %v", r.TimeoutSeconds)
	}
	if r.ReplyIdleSeconds <= 0 {
		return fmt.Errorf("relay.reply_idle_seconds must be positive, got %v", r.ReplyIdleSeconds)
	}
	if r.EditDebounceSeconds <= 0 {
		return fmt.Errorf("relay.edit_debounce_seconds must be positive, got %v", r.EditDebounceSeconds)
	}
	if r.CleanupHours <= 0 {
		return fmt.Errorf("relay.cleanup_hours must be positive, got %d", r.CleanupHours)
	}
	if r.CommandPrefix == "" {
		return fmt.Errorf("relay.command_prefix must not be empty")
	}
	return nil
}

func (r RelayConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds * float64(time.Second))
}

func (r RelayConfig) ReplyIdle() time.Duration {
	return time.Duration(r.ReplyIdleSeconds * float64(time.Second))
}

func (r RelayConfig) EditDebounce() time.Duration {
	return time.Duration(r.EditDebounceSeconds * float64(time.Second))
}

func (r RelayConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds * float64(time.Second))
}

// RetentionWindow is how long message mappings are kept before eviction.
func (r RelayConfig) RetentionWindow() time.Duration {
	return time.Duration(r.CleanupHours) * time.Hour
}

// StaleRequestAge is the cutoff for recovering requests left non-terminal
// by a crash or shutdown. Twice the collection ceiling, so a request still
// being collected by a healthy process is never recovered from under it.
func (r RelayConfig) StaleRequestAge() time.Duration {
	return 2 * r.Timeout()
}

func (c *Config) DataDir() string {
	return expandHome(c.Store.DataDir)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
