// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tsdataclinic/mta/internal/archive"
)

// EnvPrefix namespaces environment overrides, e.g. MTAALERTS_STORAGE_BACKEND.
const EnvPrefix = "MTAALERTS"

// Storage backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Collector CollectorConfig `mapstructure:"collector"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Status    StatusConfig    `mapstructure:"status"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ArchiveConfig points at the archive form and its markup.
type ArchiveConfig struct {
	URL       string            `mapstructure:"url"`
	Selectors archive.Selectors `mapstructure:"selectors"`
}

// CollectorConfig bounds pagination.
type CollectorConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// BrowserConfig configures headless Chrome.
type BrowserConfig struct {
	Headless             bool    `mapstructure:"headless"`
	ExecPath             string  `mapstructure:"exec_path"`
	UserAgent            string  `mapstructure:"user_agent"`
	NavTimeoutSeconds    int     `mapstructure:"nav_timeout_seconds"`
	SettleTimeoutSeconds int     `mapstructure:"settle_timeout_seconds"`
	ActionsPerSecond     float64 `mapstructure:"actions_per_second"`
	ScreenshotDir        string  `mapstructure:"screenshot_dir"`
}

// NavTimeout returns the per-action timeout.
func (b BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(b.NavTimeoutSeconds) * time.Second
}

// SettleTimeout returns how long to wait for a triggered page load.
func (b BrowserConfig) SettleTimeout() time.Duration {
	return time.Duration(b.SettleTimeoutSeconds) * time.Second
}

// StorageConfig selects where checkpoints live.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the checkpoint table.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for checkpoint notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// MetricsConfig configures the end-of-run metrics export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// StatusConfig configures the optional status server; empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment, reading .env first when present.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file. Variables already set
// in the environment win over the file; a missing file is ignored.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows, so every key gets a default.
func setDefaults(v *viper.Viper) {
	sel := archive.DefaultSelectors()

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("archive.url", archive.DefaultURL)
	v.SetDefault("archive.selectors.start_date", sel.StartDate)
	v.SetDefault("archive.selectors.end_date", sel.EndDate)
	v.SetDefault("archive.selectors.fetch", sel.Fetch)
	v.SetDefault("archive.selectors.table", sel.Table)
	v.SetDefault("archive.selectors.rows", sel.Rows)
	v.SetDefault("archive.selectors.cells", sel.Cells)
	v.SetDefault("archive.selectors.current_page", sel.CurrentPage)
	v.SetDefault("archive.selectors.total_pages", sel.TotalPages)
	v.SetDefault("archive.selectors.next_page", sel.NextPage)
	v.SetDefault("collector.max_pages", 10000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.settle_timeout_seconds", 60)
	v.SetDefault("browser.actions_per_second", 2)
	v.SetDefault("browser.screenshot_dir", "")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "alert_checkpoints")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("status.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Archive.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("archive.url must be an absolute URL, got %q", c.Archive.URL)
	}
	if err := c.Archive.Selectors.Validate(); err != nil {
		return fmt.Errorf("archive.selectors: %w", err)
	}
	if c.Collector.MaxPages < 0 {
		return fmt.Errorf("collector.max_pages must be >= 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.SettleTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.settle_timeout_seconds must be > 0")
	}
	if c.Browser.ActionsPerSecond < 0 {
		return fmt.Errorf("browser.actions_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return fmt.Errorf("storage.dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, memory, gcs, postgres", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
