package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "geobatch.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.Postgres.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "development", cfg.Log.Env)
	assert.Equal(t, "TUN", cfg.Geocode.CountryBias)
	assert.Equal(t, 10, cfg.Geocode.Workers)
	assert.Equal(t, 100, cfg.Geocode.BatchSize)
	assert.Equal(t, 10, cfg.Geocode.TimeoutSeconds)
	assert.InDelta(t, 1.0, cfg.Geocode.OSMRatePerSec, 0.001)
	assert.Equal(t, 65536, cfg.Geocode.CacheCapacity)
	assert.Equal(t, "GeocoderBot/1.0", cfg.Geocode.UserAgent)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.True(t, cfg.Monitoring.QuotaAlerts)
	assert.Empty(t, cfg.Providers.HereAPIKey)
	assert.Empty(t, cfg.CallLog.Path)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
providers:
  here_api_key: here-key
  osm_email: ops@example.com
geocode:
  workers: 20
  country_bias: FRA
store:
  driver: postgres
  postgres_dsn: postgres://localhost/geobatch
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "here-key", cfg.Providers.HereAPIKey)
	assert.Equal(t, "ops@example.com", cfg.Providers.OSMEmail)
	assert.Equal(t, 20, cfg.Geocode.Workers)
	assert.Equal(t, "FRA", cfg.Geocode.CountryBias)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Geocode.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOBATCH_STORE_DRIVER", "none")
	t.Setenv("GEOBATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GEOBATCH_GEOCODE_WORKERS", "25")
	t.Setenv("GEOBATCH_PROVIDERS_GOOGLE_API_KEY", "g-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Geocode.Workers)
	assert.Equal(t, "g-key", cfg.Providers.GoogleAPIKey)
}

func TestInitLoggerDevelopment(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Env: "development"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerProduction(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Env: "production"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Env: "production"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Geocode.Workers = 10
	cfg.Geocode.BatchSize = 100
	cfg.Geocode.TimeoutSeconds = 10
	cfg.Geocode.OSMRatePerSec = 1.0
	cfg.Monitoring.FailureRateThreshold = 0.5
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "geobatch.db"
	cfg.Serve.Addr = ":8080"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("retry"))
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("jobs"))
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_WorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Geocode.Workers = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.workers must be between 1 and 100")

	cfg.Geocode.Workers = 101
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Geocode.Workers = 100
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_OSMRateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Geocode.OSMRatePerSec = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "osm_rate_per_sec")

	// The Nominatim policy caps at one request per second.
	cfg.Geocode.OSMRatePerSec = 2.0
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Geocode.OSMRatePerSec = 0.5
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.postgres_dsn is required")

	cfg.Store.PostgresDSN = "postgres://localhost/geobatch"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_ServeAddr(t *testing.T) {
	cfg := validDefaults()
	cfg.Serve.Addr = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "serve.addr is required")

	// Only the serve mode needs an address.
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_FailureRateThreshold(t *testing.T) {
	cfg := validDefaults()

	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold")

	cfg.Monitoring.FailureRateThreshold = -0.1
	err = cfg.Validate("run")
	assert.Error(t, err)
}
