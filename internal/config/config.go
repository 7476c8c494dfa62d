package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Dashboard server
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	Store   StoreConfig   `mapstructure:"store"`
	Browser BrowserConfig `mapstructure:"browser"`
	Client  ClientConfig  `mapstructure:"client"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Export  ExportConfig  `mapstructure:"export"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StoreConfig covers both sides of the key store: the URL the dashboard
// talks to and the settings of the store server itself.
type StoreConfig struct {
	URL          string `mapstructure:"url"`
	Listen       string `mapstructure:"listen"`
	Engine       string `mapstructure:"engine"` // badger, pebble, memory
	SyncWrites   bool   `mapstructure:"sync_writes"`
	MaxScanCount int    `mapstructure:"max_scan_count"`
	Seed         int    `mapstructure:"seed"` // sample keys written at startup

	// Per-client request limit of the store API, 0 disables it
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Interval of the expired key sweep, 0 disables it
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BrowserConfig tunes paging and the metadata caches
type BrowserConfig struct {
	PageSize      int           `mapstructure:"page_size"`
	MetadataTTL   time.Duration `mapstructure:"metadata_ttl"`
	EditTTL       time.Duration `mapstructure:"edit_ttl"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchDelay    time.Duration `mapstructure:"batch_delay"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
}

// ClientConfig configures calls to the key store
type ClientConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	Enable        bool   `mapstructure:"enable"`
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// ExportConfig points page exports at an S3-compatible bucket
type ExportConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Compression of export bodies: gzip or none
	Compression      string `mapstructure:"compression"`
	CompressionLevel int    `mapstructure:"compression_level"`
}

// LoggingConfig lists external targets that log entries are forwarded to
type LoggingConfig struct {
	Targets []LogTarget `mapstructure:"targets"`
}

// LogTarget is one log forwarding destination
type LogTarget struct {
	Name  string `mapstructure:"name"`
	Type  string `mapstructure:"type"`  // http, syslog
	Level string `mapstructure:"level"` // minimum level forwarded

	// http
	URL           string        `mapstructure:"url"`
	AuthToken     string        `mapstructure:"auth_token"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// syslog
	Protocol string `mapstructure:"protocol"` // udp, tcp
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Tag      string `mapstructure:"tag"`
}

// Load loads configuration from file, environment variables, and command line flags
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// KVSCOPE_STORE_URL -> store.url
	v.SetEnvPrefix("KVSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8081")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")

	v.SetDefault("store.url", "http://localhost:8080")
	v.SetDefault("store.listen", ":8080")
	v.SetDefault("store.engine", "badger")
	v.SetDefault("store.sync_writes", false)
	v.SetDefault("store.max_scan_count", 1000)
	v.SetDefault("store.seed", 0)
	v.SetDefault("store.rate_limit", 0)
	v.SetDefault("store.rate_burst", 100)
	v.SetDefault("store.sweep_interval", "5m")

	v.SetDefault("browser.page_size", 50)
	v.SetDefault("browser.metadata_ttl", "5m")
	v.SetDefault("browser.edit_ttl", "1m")
	v.SetDefault("browser.lookup_timeout", "5s")
	v.SetDefault("browser.batch_size", 10)
	v.SetDefault("browser.batch_delay", "50ms")
	v.SetDefault("browser.load_timeout", "30s")

	v.SetDefault("client.timeout", "10s")
	v.SetDefault("client.ready_timeout", "30s")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("audit.enable", true)
	v.SetDefault("audit.db_path", "") // derived from data_dir
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("export.enable", false)
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.prefix", "kvscope-exports")
	v.SetDefault("export.compression", "none")
}

// bindFlags binds the command line flags a command defines. Commands only
// declare the flags they use, so missing ones are skipped.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":       "listen",
		"data-dir":     "data_dir",
		"log-level":    "log_level",
		"store-url":    "store.url",
		"store-listen": "store.listen",
		"engine":       "store.engine",
		"seed":         "store.seed",
		"page-size":    "browser.page_size",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

// validate validates the configuration and fills derived values
func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or KVSCOPE_DATA_DIR environment variable")
	}

	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		logrus.Debugf("Creating data directory: %s", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	switch cfg.Store.Engine {
	case "badger", "pebble", "memory":
	default:
		return fmt.Errorf("store.engine must be badger, pebble or memory, got %q", cfg.Store.Engine)
	}

	u, err := url.Parse(cfg.Store.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("store.url %q is not an absolute URL", cfg.Store.URL)
	}

	if cfg.Store.MaxScanCount <= 0 {
		return fmt.Errorf("store.max_scan_count must be positive")
	}
	if cfg.Store.RateLimit < 0 {
		return fmt.Errorf("store.rate_limit must not be negative")
	}
	if cfg.Store.RateLimit > 0 && cfg.Store.RateBurst < 1 {
		cfg.Store.RateBurst = 1
	}
	if cfg.Store.SweepInterval < 0 {
		return fmt.Errorf("store.sweep_interval must not be negative")
	}
	if cfg.Browser.PageSize <= 0 {
		return fmt.Errorf("browser.page_size must be positive")
	}
	if cfg.Browser.PageSize > cfg.Store.MaxScanCount {
		return fmt.Errorf("browser.page_size (%d) exceeds store.max_scan_count (%d)", cfg.Browser.PageSize, cfg.Store.MaxScanCount)
	}
	if cfg.Browser.BatchSize <= 0 {
		return fmt.Errorf("browser.batch_size must be positive")
	}
	if cfg.Browser.MetadataTTL <= 0 || cfg.Browser.EditTTL <= 0 {
		return fmt.Errorf("browser cache ttls must be positive")
	}

	if cfg.Audit.Enable && cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.DataDir, "audit.db")
	}

	if cfg.Export.Enable && cfg.Export.Bucket == "" {
		return fmt.Errorf("export.bucket is required when export is enabled")
	}
	switch cfg.Export.Compression {
	case "":
		cfg.Export.Compression = "none"
	case "none", "gzip":
	default:
		return fmt.Errorf("export.compression must be gzip or none, got %q", cfg.Export.Compression)
	}
	if cfg.Export.CompressionLevel < 0 || cfg.Export.CompressionLevel > 9 {
		return fmt.Errorf("export.compression_level must be between 0 and 9")
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	for i := range cfg.Logging.Targets {
		if err := validateLogTarget(&cfg.Logging.Targets[i]); err != nil {
			return fmt.Errorf("logging.targets[%d]: %w", i, err)
		}
	}

	return nil
}

// validateLogTarget checks a forwarding target and fills its defaults
func validateLogTarget(t *LogTarget) error {
	if t.Level == "" {
		t.Level = "info"
	}
	if _, err := logrus.ParseLevel(t.Level); err != nil {
		return fmt.Errorf("invalid level %q", t.Level)
	}

	switch t.Type {
	case "http":
		if t.URL == "" {
			return fmt.Errorf("url is required for http targets")
		}
		if t.BatchSize <= 0 {
			t.BatchSize = 100
		}
		if t.FlushInterval <= 0 {
			t.FlushInterval = 5 * time.Second
		}
	case "syslog":
		if t.Host == "" || t.Port <= 0 {
			return fmt.Errorf("host and port are required for syslog targets")
		}
		if t.Protocol == "" {
			t.Protocol = "udp"
		}
		if t.Protocol != "udp" && t.Protocol != "tcp" {
			return fmt.Errorf("syslog protocol must be udp or tcp, got %q", t.Protocol)
		}
		if t.Tag == "" {
			t.Tag = "kvscope"
		}
	default:
		return fmt.Errorf("unknown target type %q", t.Type)
	}

	if t.Name == "" {
		t.Name = t.Type
	}
	return nil
}
