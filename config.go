package scorecard

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	DBPath       string `yaml:"db"`
	Port         int    `yaml:"port"`
	MintURL      string `yaml:"mint_url"`
	MintNickname string `yaml:"mint_nickname"`

	BackupDelay     time.Duration `yaml:"backup_delay"`
	BackupTimeout   time.Duration `yaml:"backup_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ProxyTimeout    time.Duration `yaml:"proxy_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// LoadConfig reads path. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config failed: %w", err)
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s failed: %w", path, err)
		}
	}

	return cfg.WithDefaults(), nil
}

func (c Config) WithDefaults() Config {
	if c.DBPath == "" {
		c.DBPath = "scorecard.db"
	}

	if c.Port == 0 {
		c.Port = 8080
	}

	if c.MintURL == "" {
		c.MintURL = DefaultMintURL
	}

	if c.BackupDelay <= 0 {
		c.BackupDelay = 2 * time.Second
	}

	if c.BackupTimeout <= 0 {
		c.BackupTimeout = 15 * time.Second
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}

	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = 30 * time.Second
	}

	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}

	if c.JWTIssuer == "" {
		c.JWTIssuer = "scorecard"
	}

	return c
}
