// Package config loads chatsync settings from a YAML file, a .env file and
// CHATSYNC_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/hybrid"
	"github.com/creastat/chatsync/quota"
	"github.com/creastat/chatsync/remote"
)

// EnvPrefix prefixes every environment variable, e.g. CHATSYNC_QUOTA_MAX.
const EnvPrefix = "CHATSYNC"

// Local and remote driver names.
const (
	LocalMemory = "memory"
	LocalSQLite = "sqlite"
	LocalRedis  = "redis"

	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteSupabase = "supabase"
	RemotePostgres = "postgres"
)

// Config holds all settings.
type Config struct {
	StorageBackend string `mapstructure:"storage_backend"`
	RemoteEndpoint string `mapstructure:"remote_endpoint"` // Supabase URL or Postgres DSN
	QuotaMax       int    `mapstructure:"quota_max"`

	RemoteDriver  string        `mapstructure:"remote_driver"`
	RemoteAPIKey  string        `mapstructure:"remote_api_key"`
	RemoteTable   string        `mapstructure:"remote_table"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`

	LocalDriver   string        `mapstructure:"local_driver"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`

	TimeZone            string `mapstructure:"time_zone"`
	ContextTokenLimit   int    `mapstructure:"context_token_limit"`
	ContextMessageLimit int    `mapstructure:"context_message_limit"`

	AuthSecret string `mapstructure:"auth_secret"`
	AuthIssuer string `mapstructure:"auth_issuer"`
	AuthToken  string `mapstructure:"auth_token"`

	LogLevel string `mapstructure:"log_level"`
}

// Options select where Load looks.
type Options struct {
	ConfigFile string // explicit YAML file; empty searches for chatsync.yaml
	EnvFile    string // default ".env"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_backend", string(hybrid.BackendHybrid))
	v.SetDefault("remote_endpoint", "")
	v.SetDefault("quota_max", quota.DefaultMax)
	v.SetDefault("remote_driver", RemoteNone)
	v.SetDefault("remote_api_key", "")
	v.SetDefault("remote_table", "chat_sessions")
	v.SetDefault("remote_timeout", remote.DefaultTimeout)
	v.SetDefault("local_driver", LocalSQLite)
	v.SetDefault("sqlite_path", "chatsync.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "chat:")
	v.SetDefault("redis_ttl", time.Duration(0))
	v.SetDefault("time_zone", "Local")
	v.SetDefault("context_token_limit", 3000)
	v.SetDefault("context_message_limit", 40)
	v.SetDefault("auth_secret", "")
	v.SetDefault("auth_issuer", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. Missing files are not an error; values come from
// defaults, then the YAML file, then the environment.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("chatsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("no config file found, using environment and defaults")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and required settings.
func (c *Config) Validate() error {
	switch hybrid.Backend(c.StorageBackend) {
	case hybrid.BackendLocal, hybrid.BackendHybrid:
	default:
		return invalid("storage_backend %q must be local or hybrid", c.StorageBackend)
	}
	if c.QuotaMax <= 0 {
		return invalid("quota_max must be positive")
	}
	if c.RemoteTimeout <= 0 {
		return invalid("remote_timeout must be positive")
	}

	switch c.LocalDriver {
	case LocalMemory:
	case LocalSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite driver")
		}
	case LocalRedis:
		if c.RedisAddr == "" {
			return invalid("redis_addr is required for the redis driver")
		}
	default:
		return invalid("unknown local_driver %q", c.LocalDriver)
	}

	switch c.RemoteDriver {
	case RemoteNone, RemoteMemory:
	case RemoteSupabase:
		if c.RemoteEndpoint == "" || c.RemoteAPIKey == "" {
			return invalid("remote_endpoint and remote_api_key are required for supabase")
		}
	case RemotePostgres:
		if c.RemoteEndpoint == "" {
			return invalid("remote_endpoint is required for postgres")
		}
	default:
		return invalid("unknown remote_driver %q", c.RemoteDriver)
	}

	if _, err := c.Location(); err != nil {
		return invalid("time_zone: %v", err)
	}
	if c.ContextTokenLimit < 0 || c.ContextMessageLimit < 0 {
		return invalid("context limits must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return invalid("log_level: %v", err)
	}
	return nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// Hybrid returns the synchronizer configuration.
func (c *Config) Hybrid() (hybrid.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return hybrid.Config{}, invalid("time_zone: %v", err)
	}
	return hybrid.Config{
		StorageBackend:      hybrid.Backend(c.StorageBackend),
		QuotaMax:            c.QuotaMax,
		RemoteTimeout:       c.RemoteTimeout,
		Location:            loc,
		ContextTokenLimit:   c.ContextTokenLimit,
		ContextMessageLimit: c.ContextMessageLimit,
	}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", chatsync.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
