// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob, loaded from file and environment.
type Config struct {
	Bucket  BucketConfig  `mapstructure:"bucket"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Report  ReportConfig  `mapstructure:"report"`
	Archive ArchiveConfig `mapstructure:"archive"`
	History HistoryConfig `mapstructure:"history"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BucketConfig selects and configures the bucket listing source.
type BucketConfig struct {
	// Provider is one of "s3", "gcs" or "file".
	Provider string `mapstructure:"provider"`
	// Endpoint is the bucket's public base URL, used by the s3 provider.
	Endpoint string `mapstructure:"endpoint"`
	// Name is the bucket name, used by the gcs provider.
	Name string `mapstructure:"name"`
	// Prefix restricts listings to keys under this prefix.
	Prefix string `mapstructure:"prefix"`
	// PageSize is the number of keys requested per listing page.
	PageSize int `mapstructure:"page_size"`
	// ListingFile is the path to a saved listing, used by the file provider.
	ListingFile    string `mapstructure:"listing_file"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CatalogConfig locates the persisted catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ReportConfig locates the per-run stats files.
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig governs archive submission behavior.
type ArchiveConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	UserAgent       string `mapstructure:"user_agent"`
	BudgetSeconds   int    `mapstructure:"budget_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	DelaySeconds    int    `mapstructure:"delay_seconds"`
	CooldownSeconds int    `mapstructure:"cooldown_seconds"`
}

// HistoryConfig controls run history persistence.
type HistoryConfig struct {
	// Provider is "noop" or "postgres".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// NotifyConfig controls run digest notifications.
type NotifyConfig struct {
	// Provider is "noop" or "pubsub".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MonitorConfig controls the health and metrics listener. An empty addr
// disables it.
type MonitorConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig controls pushing run metrics to a Prometheus Pushgateway.
// An empty gateway URL disables pushing.
type MetricsConfig struct {
	PushGateway string `mapstructure:"push_gateway"`
	Job         string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. With an empty path it
// searches the usual config locations and proceeds on defaults when no file
// is found.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tapo-directory/")
		v.AddConfigPath("$HOME/.tapo-directory")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("bucket.provider", "s3")
	v.SetDefault("bucket.endpoint", "https://download.tplinkcloud.com")
	v.SetDefault("bucket.page_size", 1000)
	v.SetDefault("bucket.timeout_seconds", 60)
	v.SetDefault("catalog.path", "all_keys.csv")
	v.SetDefault("report.dir", ".")
	v.SetDefault("archive.endpoint", "https://web.archive.org")
	v.SetDefault("archive.public_base_url", "http://download.tplinkcloud.com")
	v.SetDefault("archive.user_agent", "TP-Link Archive Bot")
	v.SetDefault("archive.budget_seconds", 300)
	v.SetDefault("archive.timeout_seconds", 60)
	v.SetDefault("archive.delay_seconds", 2)
	v.SetDefault("archive.cooldown_seconds", 60)
	v.SetDefault("history.provider", "noop")
	v.SetDefault("history.table", "runs")
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("metrics.job", "tapo-directory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and provider combinations.
func (c Config) Validate() error {
	switch c.Bucket.Provider {
	case "s3":
		if c.Bucket.Endpoint == "" {
			return fmt.Errorf("bucket.endpoint must be set for the s3 provider")
		}
	case "gcs":
		if c.Bucket.Name == "" {
			return fmt.Errorf("bucket.name must be set for the gcs provider")
		}
	case "file":
		if c.Bucket.ListingFile == "" {
			return fmt.Errorf("bucket.listing_file must be set for the file provider")
		}
	default:
		return fmt.Errorf("unknown bucket.provider: %s", c.Bucket.Provider)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must be set")
	}
	if c.Archive.Endpoint == "" {
		return fmt.Errorf("archive.endpoint must be set")
	}
	if c.Archive.BudgetSeconds <= 0 {
		return fmt.Errorf("archive.budget_seconds must be > 0")
	}

	switch c.History.Provider {
	case "noop":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown history.provider: %s", c.History.Provider)
	}

	switch c.Notify.Provider {
	case "noop":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown notify.provider: %s", c.Notify.Provider)
	}

	return nil
}

// BucketTimeout returns the per-page listing timeout.
func (c Config) BucketTimeout() time.Duration {
	return time.Duration(c.Bucket.TimeoutSeconds) * time.Second
}

// Budget returns the archive run's wall-clock budget.
func (c Config) Budget() time.Duration {
	return time.Duration(c.Archive.BudgetSeconds) * time.Second
}

// ArchiveTimeout returns the per-submission request timeout.
func (c Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.Archive.TimeoutSeconds) * time.Second
}

// Delay returns the politeness pause between submissions.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Archive.DelaySeconds) * time.Second
}

// Cooldown returns the backoff applied after a rate-limited submission.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Archive.CooldownSeconds) * time.Second
}
