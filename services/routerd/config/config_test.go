package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
genesis: ./genesis.toml
auth:
  hmac_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8090", cfg.ListenAddress)
	require.Equal(t, "./routerd-data", cfg.DataDir)
	require.Equal(t, "scope", cfg.Auth.ScopeClaim)
	require.Equal(t, float64(120), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 20, cfg.RateLimit.Burst)
	require.Equal(t, 15*time.Second, cfg.Timeouts.Request)
	require.Empty(t, cfg.Archive.DSN)
}

func TestLoadParsesSettings(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
data_dir: /var/lib/routerd
genesis: /etc/routerd/genesis.toml
archive:
  dsn: postgres://router@db/receipts
auth:
  hmac_secret: "`+testSecret+`"
  issuer: lpvault
  audience: routerd
rate_limit:
  requests_per_minute: 30
  burst: 5
log:
  level: debug
  file: /var/log/routerd.log
  max_size_mb: 10
timeouts:
  request: 3s
telemetry:
  endpoint: " http://otel:4318 "
  headers:
    tenant: lpv
  sample_ratio: 0.5
  metric_interval: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "postgres://router@db/receipts", cfg.Archive.DSN)
	require.Equal(t, "routerd", cfg.Auth.Audience)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 10, cfg.Log.MaxSizeMB)
	require.Equal(t, 3*time.Second, cfg.Timeouts.Request)
	require.Equal(t, "http://otel:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, "lpv", cfg.Telemetry.Headers["tenant"])
	require.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
	require.Equal(t, 30*time.Second, cfg.Telemetry.MetricInterval)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		contents string
		want     string
	}{
		"missing genesis": {"auth:\n  hmac_secret: \"" + testSecret + "\"\n", "genesis file required"},
		"missing secret":  {"genesis: g.toml\n", "hmac_secret required"},
		"short secret":    {"genesis: g.toml\nauth:\n  hmac_secret: short\n", "at least 32 bytes"},
		"unknown field":   {"genesis: g.toml\nbogus: 1\n", "decode config"},
		"sample ratio": {
			"genesis: g.toml\nauth:\n  hmac_secret: \"" + testSecret + "\"\ntelemetry:\n  sample_ratio: 2\n",
			"sample_ratio",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadReadsSecretFromEnv(t *testing.T) {
	t.Setenv(EnvHMACSecret, testSecret)
	cfg, err := Load(writeConfig(t, "genesis: ./genesis.toml\n"))
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.Auth.HMACSecret)
}
