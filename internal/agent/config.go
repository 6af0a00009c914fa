package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/display"
)

// Config is the on-device agent configuration, loaded from YAML with
// environment variable fallbacks for containerized deployments.
type Config struct {
	Server struct {
		URL          string        `yaml:"url"`
		HardwareID   string        `yaml:"hardware_id"`
		DeviceSecret string        `yaml:"device_secret"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Cache struct {
		Dir        string `yaml:"dir"`
		QuotaBytes int64  `yaml:"quota_bytes"`
	} `yaml:"cache"`

	Display display.Config `yaml:"display"`

	Intervals struct {
		Sync      time.Duration `yaml:"sync"`
		Heartbeat time.Duration `yaml:"heartbeat"`
		Commands  time.Duration `yaml:"commands"`
	} `yaml:"intervals"`
}

// LoadConfig reads the agent config file, then lets environment variables
// override connection settings so a fleet image can ship one file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := config.Get("HOLOFLEET_SERVER_URL", ""); v != "" {
		cfg.Server.URL = v
	}
	if v := config.Get("HOLOFLEET_HARDWARE_ID", ""); v != "" {
		cfg.Server.HardwareID = v
	}
	if v := config.Get("HOLOFLEET_DEVICE_SECRET", ""); v != "" {
		cfg.Server.DeviceSecret = v
	}

	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	if cfg.Server.HardwareID == "" {
		return nil, fmt.Errorf("server.hardware_id is required")
	}
	if cfg.Server.DeviceSecret == "" {
		return nil, fmt.Errorf("server.device_secret is required")
	}

	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = config.Get("HOLOFLEET_CACHE_DIR", "/var/lib/holofleet/cache")
	}
	if cfg.Cache.QuotaBytes == 0 {
		cfg.Cache.QuotaBytes = config.GetInt64("HOLOFLEET_CACHE_QUOTA_BYTES", 10<<30)
	}
	if cfg.Intervals.Sync == 0 {
		cfg.Intervals.Sync = 30 * time.Second
	}
	if cfg.Intervals.Heartbeat == 0 {
		cfg.Intervals.Heartbeat = 30 * time.Second
	}
	if cfg.Intervals.Commands == 0 {
		cfg.Intervals.Commands = time.Minute
	}

	return &cfg, nil
}
