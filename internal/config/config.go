package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the reporting service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type CacheConfig struct {
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	EvictionBatch int           `mapstructure:"eviction_batch"`
}

type ReportingConfig struct {
	Timezone         string `mapstructure:"timezone"`
	ExcludePartial   bool   `mapstructure:"exclude_partial_day"`
	LifetimeStart    string `mapstructure:"lifetime_start"`
	DefaultRangeDays int    `mapstructure:"default_range_days"`
}

type ObservabilityConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

type HealthConfig struct {
	ProbeAttempts int           `mapstructure:"probe_attempts"`
	ProbeDelay    time.Duration `mapstructure:"probe_delay"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfgFile := os.Getenv("REPORTD_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("reportd")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("REPORTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "REPORTD_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "REPORTD_REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	tz := strings.TrimSpace(c.Reporting.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("reporting.timezone %q: %w", tz, err)
	}
	c.Reporting.Timezone = tz

	if c.Reporting.LifetimeStart != "" {
		if _, err := time.Parse("2006-01-02", c.Reporting.LifetimeStart); err != nil {
			return fmt.Errorf("reporting.lifetime_start must be YYYY-MM-DD: %w", err)
		}
	}
	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.EvictionBatch <= 0 {
		c.Cache.EvictionBatch = 5
	}
	if c.Health.ProbeAttempts <= 0 {
		c.Health.ProbeAttempts = 5
	}
	if c.Health.ProbeDelay <= 0 {
		c.Health.ProbeDelay = 2 * time.Second
	}
	if c.Health.ProbeTimeout <= 0 {
		c.Health.ProbeTimeout = 3 * time.Second
	}
	return nil
}

// Location resolves the reporting timezone. Validate must have run first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reporting.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", false)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("cache.key_prefix", "trend")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 30)
	v.SetDefault("cache.eviction_batch", 5)

	v.SetDefault("reporting.timezone", "UTC")
	v.SetDefault("reporting.exclude_partial_day", true)
	v.SetDefault("reporting.lifetime_start", "2020-01-01")
	v.SetDefault("reporting.default_range_days", 30)

	v.SetDefault("observability.enable_metrics", true)

	v.SetDefault("health.probe_attempts", 5)
	v.SetDefault("health.probe_delay", "2s")
	v.SetDefault("health.probe_timeout", "3s")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return time.Duration(0), nil
			}
			return time.ParseDuration(v)
		case int, int64, float64:
			return data, nil
		default:
			return data, nil
		}
	}
}
