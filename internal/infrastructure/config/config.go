package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Upload    UploadConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// GatewayConfig holds filesystem gateway configuration.
type GatewayConfig struct {
	Root           string   `envconfig:"GATEWAY_ROOT" default:"./data"`
	TempDir        string   `envconfig:"GATEWAY_TEMP_DIR"`
	ArchiveFormat  string   `envconfig:"ARCHIVE_FORMAT" default:"zip"`
	ArchiveExclude []string `envconfig:"ARCHIVE_EXCLUDE"`
}

// UploadConfig holds multipart upload limits.
type UploadConfig struct {
	MaxBytes    int64 `envconfig:"MAX_UPLOAD_BYTES" default:"1073741824"`
	MemoryBytes int64 `envconfig:"UPLOAD_MEMORY_BYTES" default:"33554432"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Gateway: GatewayConfig{
			Root:          "./data",
			ArchiveFormat: "zip",
		},
		Upload: UploadConfig{
			MaxBytes:    1 << 30,
			MemoryBytes: 32 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Gateway.Root) == "" {
		errs = append(errs, errors.New("GATEWAY_ROOT must not be empty"))
	}
	switch strings.ToLower(c.Gateway.ArchiveFormat) {
	case "", "zip", "tar.gz", "tgz", "gzip", "tar.zst", "tar.zstd", "zstd":
	default:
		errs = append(errs, fmt.Errorf("ARCHIVE_FORMAT %q is not supported", c.Gateway.ArchiveFormat))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Upload.MemoryBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MEMORY_BYTES must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit values must be positive when enabled"))
	}
	return errors.Join(errs...)
}
