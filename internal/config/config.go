// Package config loads and validates badge updater configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

// Fetcher modes.
const (
	FetcherModeColly    = "colly"
	FetcherModeHeadless = "headless"
)

// ScholarIDEnv is the environment variable naming the profile to query.
const ScholarIDEnv = "SCHOLAR_ID"

// ErrMissingScholarID is returned by RequireScholarID when no identifier is set.
var ErrMissingScholarID = errors.New(ScholarIDEnv + " is not set")

// Config captures all updater configuration knobs loaded via Viper.
type Config struct {
	Scholar  ScholarConfig  `mapstructure:"scholar"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScholarConfig identifies the profile and how its URL is built.
type ScholarConfig struct {
	ID       string `mapstructure:"id"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
}

// HTTPConfig configures the profile request.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// FetcherConfig selects the fetch implementation.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// OutputConfig names the badge file.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig enables mirroring the badge file to GCS.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for update notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig enables pushing run metrics to a Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file plus the environment. Every key
// can be overridden with BADGE_<SECTION>_<KEY>; the identifier also reads the
// unprefixed SCHOLAR_ID.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BADGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("scholar.id", ScholarIDEnv, "BADGE_SCHOLAR_ID"); err != nil {
		return Config{}, fmt.Errorf("bind %s: %w", ScholarIDEnv, err)
	}

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("scholar.base_url", scholar.DefaultBaseURL)
	v.SetDefault("scholar.language", scholar.DefaultLanguage)
	v.SetDefault("http.timeout_seconds", int(scholar.DefaultTimeout/time.Second))
	v.SetDefault("http.user_agent", scholar.DefaultUserAgent)
	v.SetDefault("fetcher.mode", FetcherModeColly)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("output.path", "data.json")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "scholar_badge")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. The identifier is
// checked separately by RequireScholarID.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Fetcher.Mode {
	case FetcherModeColly:
	case FetcherModeHeadless:
		if c.Headless.NavTimeoutSec <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when fetcher.mode is headless")
		}
	default:
		return fmt.Errorf("fetcher.mode must be %q or %q, got %q", FetcherModeColly, FetcherModeHeadless, c.Fetcher.Mode)
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Metrics.PushgatewayURL != "" && c.Metrics.JobName == "" {
		return fmt.Errorf("metrics.job_name must be set when metrics.pushgateway_url is set")
	}
	return nil
}

// RequireScholarID returns the trimmed identifier or ErrMissingScholarID.
func (c Config) RequireScholarID() (scholar.Identifier, error) {
	id, ok := scholar.ParseIdentifier(c.Scholar.ID)
	if !ok {
		return "", ErrMissingScholarID
	}
	return id, nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// OutputDir is the directory part of output.path.
func (c Config) OutputDir() string {
	return filepath.Dir(filepath.Clean(c.Output.Path))
}

// OutputFile is the file name part of output.path.
func (c Config) OutputFile() string {
	return filepath.Base(filepath.Clean(c.Output.Path))
}
