package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hexlabs/cyberdash/pkg/config"
)

// Config holds the dashboard core's configuration. Only the backend base
// URLs are required; everything else has working defaults.
type Config struct {
	CoreAPIURL  string `env:"CORE_API_URL" envDefault:"http://localhost:8080"`
	IntelAPIURL string `env:"INTEL_API_URL" envDefault:"http://localhost:8090"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DataDir holds the local store database and the credential file.
	// Empty means the per-user config directory.
	DataDir string `env:"DATA_DIR"`

	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"30s"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`

	IntelBreaker bool `env:"INTEL_BREAKER" envDefault:"true"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// dataDir resolves the directory for local state, creating it if needed.
func (c *Config) dataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "cyberdash")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}
