package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	CallLog    CallLogConfig    `yaml:"calllog" mapstructure:"calllog"`
	Serve      ServeConfig      `yaml:"serve" mapstructure:"serve"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ProvidersConfig holds the per-provider credentials. An empty credential
// leaves the corresponding provider registered but permanently unavailable.
type ProvidersConfig struct {
	HereAPIKey       string `yaml:"here_api_key" mapstructure:"here_api_key"`
	GoogleAPIKey     string `yaml:"google_api_key" mapstructure:"google_api_key"`
	OSMEmail         string `yaml:"osm_email" mapstructure:"osm_email"`
	OpenCageAPIKey   string `yaml:"opencage_api_key" mapstructure:"opencage_api_key"`
	GeocodeXYZAPIKey string `yaml:"geocodexyz_api_key" mapstructure:"geocodexyz_api_key"`
}

// GeocodeConfig tunes the geocoding engine and scheduler.
type GeocodeConfig struct {
	CountryBias    string  `yaml:"country_bias" mapstructure:"country_bias"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSeconds int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	OSMRatePerSec  float64 `yaml:"osm_rate_per_sec" mapstructure:"osm_rate_per_sec"`
	CacheCapacity  int     `yaml:"cache_capacity" mapstructure:"cache_capacity"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the job persistence backend.
type StoreConfig struct {
	Driver      string         `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string         `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresDSN string         `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	Postgres    PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig holds connection pool tuning parameters.
type PostgresConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// CallLogConfig configures the outbound call log sink.
type CallLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServeConfig configures the HTTP API server.
type ServeConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures post-job alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QuotaAlerts          bool    `yaml:"quota_alerts" mapstructure:"quota_alerts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Env   string `yaml:"env" mapstructure:"env"`
}

// Validate checks the configuration for the given command mode. Modes:
// "run", "retry", "serve", "jobs".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "retry", "serve", "jobs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Geocode.Workers < 1 || c.Geocode.Workers > 100 {
		problems = append(problems, "geocode.workers must be between 1 and 100")
	}
	if c.Geocode.BatchSize < 1 {
		problems = append(problems, "geocode.batch_size must be > 0")
	}
	if c.Geocode.TimeoutSeconds < 1 {
		problems = append(problems, "geocode.timeout_seconds must be > 0")
	}
	if c.Geocode.OSMRatePerSec <= 0 || c.Geocode.OSMRatePerSec > 1 {
		problems = append(problems, "geocode.osm_rate_per_sec must be in (0, 1]")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be between 0 and 1")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		problems = append(problems, "store.driver must be sqlite, postgres, or none")
	}
	if c.Store.Driver == "postgres" && c.Store.PostgresDSN == "" {
		problems = append(problems, "store.postgres_dsn is required for the postgres driver")
	}

	if mode == "serve" && c.Serve.Addr == "" {
		problems = append(problems, "serve.addr is required")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.geobatch")

	// Environment
	v.SetEnvPrefix("GEOBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("providers.here_api_key", "")
	v.SetDefault("providers.google_api_key", "")
	v.SetDefault("providers.osm_email", "")
	v.SetDefault("providers.opencage_api_key", "")
	v.SetDefault("providers.geocodexyz_api_key", "")
	v.SetDefault("geocode.country_bias", "TUN")
	v.SetDefault("geocode.workers", 10)
	v.SetDefault("geocode.batch_size", 100)
	v.SetDefault("geocode.timeout_seconds", 10)
	v.SetDefault("geocode.osm_rate_per_sec", 1.0)
	v.SetDefault("geocode.cache_capacity", 65536)
	v.SetDefault("geocode.user_agent", "GeocoderBot/1.0")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "geobatch.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 2)
	v.SetDefault("calllog.path", "")
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.quota_alerts", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "development")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Env == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
