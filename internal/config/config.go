package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName              string        `mapstructure:"app_name"`
	Env                  string        `mapstructure:"app_env"`
	LogLevel             string        `mapstructure:"log_level"`
	TargetsFile          string        `mapstructure:"targets_file"`
	PublishersFile       string        `mapstructure:"publishers_file"`
	FetchIntervalSeconds int64         `mapstructure:"fetch_interval"`
	FetchInterval        time.Duration `mapstructure:"-"`
	RunOnce              bool          `mapstructure:"run_once"`

	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	TimeoutScope        string `mapstructure:"timeout_scope"`
	MaxInFlight         int    `mapstructure:"max_in_flight"`
	MaxBodyBytes        int64  `mapstructure:"max_body_bytes"`
	StatusCheck         bool   `mapstructure:"status_check"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`

	SnapshotDir string `mapstructure:"snapshot_dir"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "bodydrain")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("targets_file", "./configs/targets.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("fetch_interval", 300) // seconds
	v.SetDefault("run_once", false)
	v.SetDefault("fetch_timeout_seconds", 60)
	v.SetDefault("timeout_scope", "total")
	v.SetDefault("max_in_flight", 4)
	v.SetDefault("max_body_bytes", int64(8<<20))
	v.SetDefault("status_check", false)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/digests.db")
	v.SetDefault("storage_ttl_seconds", int64((24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((6*time.Hour)/time.Second))
	v.SetDefault("snapshot_dir", "")
	v.SetDefault("metrics_addr", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.FetchIntervalSeconds <= 0 {
		return fmt.Errorf("invalid fetch_interval (must be positive seconds)")
	}
	cfg.FetchInterval = time.Duration(cfg.FetchIntervalSeconds) * time.Second

	if cfg.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid fetch_timeout_seconds (must be positive seconds)")
	}
	cfg.TimeoutScope = strings.ToLower(strings.TrimSpace(cfg.TimeoutScope))
	switch cfg.TimeoutScope {
	case "":
		cfg.TimeoutScope = "total"
	case "total", "connect":
	default:
		return fmt.Errorf("invalid timeout_scope %q (expected connect or total)", cfg.TimeoutScope)
	}
	if cfg.MaxInFlight <= 0 {
		return fmt.Errorf("invalid max_in_flight (must be positive)")
	}
	if cfg.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid max_body_bytes (must not be negative)")
	}

	if cfg.StorageTTLSeconds <= 0 {
		return fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return nil
}
