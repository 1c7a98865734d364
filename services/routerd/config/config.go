package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvHMACSecret overrides auth.hmac_secret so the secret can stay out of the
// config file.
const EnvHMACSecret = "ROUTERD_HMAC_SECRET"

// Config captures the runtime settings for the router daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	GenesisFile   string          `yaml:"genesis"`
	Archive       ArchiveConfig   `yaml:"archive"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Timeouts      TimeoutConfig   `yaml:"timeouts"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// ArchiveConfig selects the receipt database. An empty DSN disables the
// archive and its query endpoint.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig configures bearer token validation for admin endpoints.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	ScopeClaim string `yaml:"scope_claim"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TimeoutConfig bounds HTTP server phases.
type TimeoutConfig struct {
	ReadHeader time.Duration `yaml:"read_header"`
	Request    time.Duration `yaml:"request"`
	Shutdown   time.Duration `yaml:"shutdown"`
}

// TelemetryConfig points the OTLP exporters at a collector. The standard
// OTEL_EXPORTER_OTLP_* variables override these values.
type TelemetryConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers"`
	SampleRatio    float64           `yaml:"sample_ratio"`
	MetricInterval time.Duration     `yaml:"metric_interval"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8090",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if secret := strings.TrimSpace(os.Getenv(EnvHMACSecret)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./routerd-data"
	}
	cfg.GenesisFile = strings.TrimSpace(cfg.GenesisFile)
	cfg.Archive.DSN = strings.TrimSpace(cfg.Archive.DSN)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if strings.TrimSpace(cfg.Auth.ScopeClaim) == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Timeouts.ReadHeader <= 0 {
		cfg.Timeouts.ReadHeader = 5 * time.Second
	}
	if cfg.Timeouts.Request <= 0 {
		cfg.Timeouts.Request = 15 * time.Second
	}
	if cfg.Timeouts.Shutdown <= 0 {
		cfg.Timeouts.Shutdown = 5 * time.Second
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.GenesisFile == "" {
		return fmt.Errorf("genesis file required")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required for admin endpoints")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac_secret must be at least 32 bytes")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be between 0 and 1")
	}
	return nil
}
