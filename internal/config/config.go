package config

import (
	"fmt"
	"strings"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/cascade/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Feed      FeedConfig      `yaml:"feed"`
	Rewrite   RewriteConfig   `yaml:"rewrite"`
	Remote    RemoteConfig    `yaml:"remote"`
	Assets    AssetsConfig    `yaml:"assets"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// PublishTick is the fixed cadence of the due-task sweep.
	PublishTick string `yaml:"publish_tick"`
	// SyncIntervalMinutes is the initial feed sync cadence; a value
	// persisted through the API takes precedence.
	SyncIntervalMinutes int    `yaml:"sync_interval_minutes"`
	LockFile            string `yaml:"lock_file"`
}

type FeedConfig struct {
	BaseURL   string `yaml:"base_url"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	PageSize  int    `yaml:"page_size"`
	Timeout   string `yaml:"timeout"`
}

type RewriteConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Prompt       string `yaml:"prompt"`
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
}

type RemoteConfig struct {
	BaseURL       string        `yaml:"base_url"`
	LoginPath     string        `yaml:"login_path"`
	HomePath      string        `yaml:"home_path"`
	Headless      bool          `yaml:"headless"`
	ChromePath    string        `yaml:"chrome_path"`
	LocatorsFile  string        `yaml:"locators_file"`
	ScreenshotDir string        `yaml:"screenshot_dir"`
	Timings       TimingsConfig `yaml:"timings"`
}

type TimingsConfig struct {
	Navigation string `yaml:"navigation"`
	Step       string `yaml:"step"`
	Fallback   string `yaml:"fallback"`
	Submit     string `yaml:"submit"`
	Poll       string `yaml:"poll"`
}

type AssetsConfig struct {
	TempDir string `yaml:"temp_dir"`
	Timeout string `yaml:"timeout"`
}

type IngestConfig struct {
	// OwnerUserID owns the publish tasks created for pushed articles.
	OwnerUserID    uint `yaml:"owner_user_id"`
	PublishEnabled bool `yaml:"publish_enabled"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.PublishTick == "" {
		cfg.Scheduler.PublishTick = "1m"
	}
	if cfg.Scheduler.SyncIntervalMinutes == 0 {
		cfg.Scheduler.SyncIntervalMinutes = 30
	}
	if cfg.Scheduler.LockFile == "" {
		cfg.Scheduler.LockFile = "cascade.lock"
	}
	if cfg.Feed.PageSize == 0 {
		cfg.Feed.PageSize = 20
	}
	if cfg.Feed.Timeout == "" {
		cfg.Feed.Timeout = "30s"
	}
	if cfg.Rewrite.PollInterval == "" {
		cfg.Rewrite.PollInterval = "3s"
	}
	if cfg.Rewrite.Timeout == "" {
		cfg.Rewrite.Timeout = "3m"
	}
	if cfg.Remote.LoginPath == "" {
		cfg.Remote.LoginPath = "/login"
	}
	if cfg.Remote.HomePath == "" {
		cfg.Remote.HomePath = "/index"
	}
	if cfg.Remote.Timings.Navigation == "" {
		cfg.Remote.Timings.Navigation = "30s"
	}
	if cfg.Remote.Timings.Step == "" {
		cfg.Remote.Timings.Step = "10s"
	}
	if cfg.Remote.Timings.Fallback == "" {
		cfg.Remote.Timings.Fallback = "1s"
	}
	if cfg.Remote.Timings.Submit == "" {
		cfg.Remote.Timings.Submit = "15s"
	}
	if cfg.Remote.Timings.Poll == "" {
		cfg.Remote.Timings.Poll = "250ms"
	}
	if cfg.Assets.Timeout == "" {
		cfg.Assets.Timeout = "60s"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "cascade"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate rejects unparsable durations and out-of-range intervals.
func (c *Config) Validate() error {
	durations := map[string]string{
		"scheduler.publish_tick":    c.Scheduler.PublishTick,
		"feed.timeout":              c.Feed.Timeout,
		"rewrite.poll_interval":     c.Rewrite.PollInterval,
		"rewrite.timeout":           c.Rewrite.Timeout,
		"remote.timings.navigation": c.Remote.Timings.Navigation,
		"remote.timings.step":       c.Remote.Timings.Step,
		"remote.timings.fallback":   c.Remote.Timings.Fallback,
		"remote.timings.submit":     c.Remote.Timings.Submit,
		"remote.timings.poll":       c.Remote.Timings.Poll,
		"assets.timeout":            c.Assets.Timeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	if c.Scheduler.SyncIntervalMinutes < 1 {
		return fmt.Errorf("scheduler.sync_interval_minutes must be >= 1, got %d", c.Scheduler.SyncIntervalMinutes)
	}
	if !strings.HasPrefix(c.Remote.HomePath, "/") {
		return fmt.Errorf("remote.home_path must be an absolute path, got %q", c.Remote.HomePath)
	}
	if c.Remote.HomePath == c.Remote.LoginPath {
		return fmt.Errorf("remote.home_path must differ from remote.login_path")
	}
	return nil
}

// Duration parses value, returning fallback when it is empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
