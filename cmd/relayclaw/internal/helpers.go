package internal

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/tinyland-inc/relayclaw/pkg/config"
)

const Version = "0.3.0"

func GetVersion() string {
	return Version
}

// ConfigPath resolves the config file location: explicit path, then
// RELAYCLAW_CONFIG, then ~/.relayclaw/config.json.
func ConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("RELAYCLAW_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".relayclaw", "config.json")
}

// LoadConfig loads .env (if present) and then the resolved config file
// with environment overrides applied.
func LoadConfig(explicit string) (*config.Config, error) {
	_ = godotenv.Load()
	return config.LoadConfig(ConfigPath(explicit))
}
