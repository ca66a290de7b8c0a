// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Store      StoreConfig      `mapstructure:"store"`
	DB         DBConfig         `mapstructure:"db"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PipelineConfig governs document download and conversion behavior.
type PipelineConfig struct {
	BaseDir           string `mapstructure:"base_dir"`
	UserAgent         string `mapstructure:"user_agent"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	DrainDelaySeconds int    `mapstructure:"drain_delay_seconds"`
	ImageDPI          int    `mapstructure:"image_dpi"`
}

// HTTPConfig configures HTTP client behavior for remote fetches.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// ExtractionConfig controls the language model extraction stage.
type ExtractionConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	Size           string `mapstructure:"size"`
	Strategy       string `mapstructure:"strategy"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig sets object storage mirroring for downloaded documents.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCPIPE")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("pipeline.base_dir", "downloaded_pdfs")
	v.SetDefault("pipeline.user_agent", "docpipe/0.1")
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.drain_delay_seconds", 1)
	v.SetDefault("pipeline.image_dpi", 150)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 256<<20)
	v.SetDefault("extraction.endpoint", "http://localhost:11434")
	v.SetDefault("extraction.model", "granite3.3:8b")
	v.SetDefault("extraction.size", "medium")
	v.SetDefault("extraction.strategy", "intelligent")
	v.SetDefault("extraction.timeout_seconds", 300)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "documents")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set for the postgres backend")
	}
	if c.Pipeline.BaseDir == "" {
		return fmt.Errorf("pipeline.base_dir must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Extraction.Endpoint == "" {
		return fmt.Errorf("extraction.endpoint must be set")
	}
	if c.Archive.Enabled && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archiving is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchBudget converts the HTTP timeout into a duration.
func (c Config) FetchBudget() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DrainDelay is the pause between queue items during a drain.
func (c Config) DrainDelay() time.Duration {
	return time.Duration(c.Pipeline.DrainDelaySeconds) * time.Second
}
