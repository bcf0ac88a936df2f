// Package config loads service configuration from an optional config.yaml and
// AGENTSTATS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// AGENTSTATS_DATABASE_HOST.
const EnvPrefix = "AGENTSTATS"

type Config struct {
	Database     db.Config
	Server       ServerConfig
	Auth         AuthConfig
	Redis        RedisConfig
	Sync         SyncConfig
	AgentManager AgentManagerConfig
	Log          LogConfig
	Export       ExportConfig

	// File is the config file that was read, empty when running on defaults
	// and environment only.
	File string
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	Method domain.AuthMethod
}

type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	AccessCacheTTL time.Duration
}

type SyncConfig struct {
	Enabled        bool
	AgentBatchSize int
}

// AgentManagerConfig configures the HTTP client used to page through a
// client's agents. The base URL is the client's endpoint.
type AgentManagerConfig struct {
	Timeout    time.Duration
	AgentsPath string
}

type LogConfig struct {
	Level  string
	Format string
}

type ExportConfig struct {
	MaxRows int
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
		},
		Auth: AuthConfig{Method: domain.AuthMethodPassword},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			AccessCacheTTL: 30 * time.Second,
		},
		Sync: SyncConfig{
			Enabled:        true,
			AgentBatchSize: 50,
		},
		AgentManager: AgentManagerConfig{
			Timeout:    10 * time.Second,
			AgentsPath: "/api/agents",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Export: ExportConfig{MaxRows: 10000},
	}
}

// Load reads config.yaml from configPath (if present) and applies
// environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	v := newViper(configPath)

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	cfg.Database.Host = v.GetString("database.host")
	cfg.Database.Port = v.GetInt("database.port")
	cfg.Database.User = v.GetString("database.user")
	cfg.Database.Password = v.GetString("database.password")
	cfg.Database.DBName = v.GetString("database.dbname")
	cfg.Database.SSLMode = v.GetString("database.sslmode")
	cfg.Database.MaxConns = v.GetInt32("database.max_conns")

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")

	cfg.Auth.Method = domain.AuthMethod(strings.ToLower(v.GetString("auth.method")))
	if !cfg.Auth.Method.Valid() {
		return Config{}, fmt.Errorf("invalid auth.method %q", cfg.Auth.Method)
	}

	cfg.Redis.Enabled = v.GetBool("redis.enabled")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.AccessCacheTTL = v.GetDuration("redis.access_cache_ttl")

	cfg.Sync.Enabled = v.GetBool("sync.enabled")
	cfg.Sync.AgentBatchSize = v.GetInt("sync.agent_batch_size")
	if cfg.Sync.AgentBatchSize <= 0 {
		return Config{}, fmt.Errorf("sync.agent_batch_size must be positive, got %d", cfg.Sync.AgentBatchSize)
	}

	cfg.AgentManager.Timeout = v.GetDuration("agent_manager.timeout")
	cfg.AgentManager.AgentsPath = v.GetString("agent_manager.agents_path")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")

	cfg.Export.MaxRows = v.GetInt("export.max_rows")

	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so AutomaticEnv can resolve it even when the
// config file does not mention it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("auth.method", string(d.Auth.Method))

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.access_cache_ttl", d.Redis.AccessCacheTTL)

	v.SetDefault("sync.enabled", d.Sync.Enabled)
	v.SetDefault("sync.agent_batch_size", d.Sync.AgentBatchSize)

	v.SetDefault("agent_manager.timeout", d.AgentManager.Timeout)
	v.SetDefault("agent_manager.agents_path", d.AgentManager.AgentsPath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("export.max_rows", d.Export.MaxRows)
}
