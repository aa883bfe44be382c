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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Convert  ConvertConfig  `mapstructure:"convert"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Registry RegistryConfig `mapstructure:"registry"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeoutSeconds bounds API handlers (the SSE stream is exempt).
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ConvertConfig governs the conversion pipeline.
type ConvertConfig struct {
	MaxParallel         int    `mapstructure:"max_parallel"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MaxFetchBytes       int64  `mapstructure:"max_fetch_bytes"`
	PresignTTLSeconds   int    `mapstructure:"presign_ttl_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
}

// UploadConfig bounds direct file uploads.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	// Provider is one of s3, gcs, memory.
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`

	S3 S3Config `mapstructure:"s3"`

	GCSBucket string `mapstructure:"gcs_bucket"`
}

// S3Config holds connection parameters for S3-compatible stores.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// RegistryConfig bounds in-memory task retention.
type RegistryConfig struct {
	EvictionTTLSeconds   int `mapstructure:"eviction_ttl_seconds"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	MaxTasks             int `mapstructure:"max_tasks"`
}

// DBConfig controls the optional Postgres audit trail.
type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for task-completion notifications.
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
	v.SetEnvPrefix("OSSRELAY")
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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("convert.max_parallel", 5)
	v.SetDefault("convert.fetch_timeout_seconds", 15)
	v.SetDefault("convert.max_fetch_bytes", int64(64<<20))
	v.SetDefault("convert.presign_ttl_seconds", 3600)
	v.SetDefault("convert.user_agent", "oss-relay/0.1")
	v.SetDefault("upload.max_bytes", int64(100<<20))
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "mirrored")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("registry.eviction_ttl_seconds", 3600)
	v.SetDefault("registry.sweep_interval_seconds", 30)
	v.SetDefault("registry.max_tasks", 10000)
	v.SetDefault("pubsub.topic_name", "task-done")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Convert.MaxParallel <= 0 {
		return fmt.Errorf("convert.max_parallel must be > 0")
	}
	if c.Convert.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("convert.fetch_timeout_seconds must be > 0")
	}
	if c.Convert.PresignTTLSeconds <= 0 {
		return fmt.Errorf("convert.presign_ttl_seconds must be > 0")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "s3":
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3.endpoint is required for the s3 provider")
		}
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when the audit trail is enabled")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// FetchTimeout converts the configured seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Convert.FetchTimeoutSeconds) * time.Second
}

// PresignTTL converts the configured seconds into a duration.
func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.Convert.PresignTTLSeconds) * time.Second
}

// EvictionTTL converts the configured seconds into a duration.
func (c Config) EvictionTTL() time.Duration {
	return time.Duration(c.Registry.EvictionTTLSeconds) * time.Second
}

// SweepInterval converts the configured seconds into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepIntervalSeconds) * time.Second
}

// RequestTimeout converts the configured seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
