package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the sync core. Values come from, in
// ascending precedence: built-in defaults, an optional YAML file, and
// environment variables.
type Config struct {
	// BaseURL of the ordering API, e.g. "https://warung.tablio.com".
	BaseURL string `yaml:"baseUrl" env:"POS_BASE_URL"`
	// Host this device is assigned to; its leading label selects the tenant.
	Host string `yaml:"host" env:"POS_HOST"`
	// FallbackTenant is used when Host is bare (localhost, IP).
	FallbackTenant string `yaml:"fallbackTenant" env:"POS_FALLBACK_TENANT"`

	StorePath string `yaml:"storePath" env:"POS_STORE_PATH"`

	ProbePath     string        `yaml:"probePath" env:"POS_PROBE_PATH"`
	ProbeInterval time.Duration `yaml:"probeInterval" env:"POS_PROBE_INTERVAL"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout" env:"POS_PROBE_TIMEOUT"`

	SyncInterval   time.Duration `yaml:"syncInterval" env:"POS_SYNC_INTERVAL"`
	RetryThreshold int           `yaml:"retryThreshold" env:"POS_RETRY_THRESHOLD"`
	QueueMaxAge    time.Duration `yaml:"queueMaxAge" env:"POS_QUEUE_MAX_AGE"`

	MenuTTL     time.Duration `yaml:"menuTtl" env:"POS_MENU_TTL"`
	TablesTTL   time.Duration `yaml:"tablesTtl" env:"POS_TABLES_TTL"`
	SettingsTTL time.Duration `yaml:"settingsTtl" env:"POS_SETTINGS_TTL"`

	SlackToken     string `yaml:"slackToken" env:"SLACK_BOT_TOKEN"`
	SlackChannelID string `yaml:"slackChannelId" env:"SLACK_ERROR_CHANNEL"`
}

func Default() Config {
	return Config{
		FallbackTenant: "demo",
		StorePath:      "pos-sync.db",
		ProbePath:      "/health",
		ProbeInterval:  10 * time.Second,
		ProbeTimeout:   5 * time.Second,
		SyncInterval:   30 * time.Second,
		RetryThreshold: 5,
		QueueMaxAge:    7 * 24 * time.Hour,
		MenuTTL:        24 * time.Hour,
		TablesTTL:      time.Hour,
		SettingsTTL:    time.Hour,
	}
}

// Load reads the YAML file at path (skipped when path is empty) and applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
