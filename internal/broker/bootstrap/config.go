package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved broker configuration (SPEC_FULL's
// Configuration section): server bind address, storage backend selection,
// auth, fan-out tuning, idempotency TTL, and observability endpoints.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Fanout        FanoutConfig
	Idempotency   IdempotencyConfig
	Observability ObservabilityConfig
	LogLevel      string
	LogFormat     string
	Workflow      WorkflowConfig
}

// ServerConfig controls the REST+WebSocket listener.
type ServerConfig struct {
	Addr         string
	WriteTimeout time.Duration
}

// StorageConfig selects and configures the per-instance and shared stores.
type StorageConfig struct {
	// Driver selects the per-instance Entity Instance store: "sqlite" (the
	// default, an embedded file) or "postgres". validate accepts "postgres",
	// but BuildContainer rejects it: no Postgres-backed instance store exists.
	Driver string
	// DSN is the per-instance store's connection string: a filesystem path
	// for sqlite, a Postgres URL for postgres.
	DSN string
	// RegistryDSN is always a Postgres URL: the Identity & Registry and
	// Idempotency Store are shared across every broker instance.
	RegistryDSN string
}

// AuthConfig controls write-endpoint authentication.
type AuthConfig struct {
	APIKey string
}

// FanoutConfig tunes the per-entity WebSocket Hub.
type FanoutConfig struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration
	MaxBuffered  int
}

// IdempotencyConfig tunes the Idempotency Store.
type IdempotencyConfig struct {
	TTL time.Duration
}

// WorkflowConfig tunes workflow completion semantics.
type WorkflowConfig struct {
	StrictCompletion bool
}

// ObservabilityConfig controls tracing/metrics export.
type ObservabilityConfig struct {
	OTLPEndpoint string
	MetricsAddr  string
}

// LoadConfig loads configuration from the first spectralnotify.yaml found in
// the working directory or $HOME (or the file already set on v), then
// SPECTRALNOTIFY_* environment variables, then whatever flags the caller has
// already bound into v, in that ascending order of precedence.
func LoadConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	v.SetConfigName("spectralnotify")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	v.SetEnvPrefix("SPECTRALNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Storage: StorageConfig{
			Driver:      v.GetString("storage.driver"),
			DSN:         v.GetString("storage.dsn"),
			RegistryDSN: v.GetString("storage.registry_dsn"),
		},
		Auth: AuthConfig{
			APIKey: v.GetString("auth.api_key"),
		},
		Fanout: FanoutConfig{
			PingInterval: v.GetDuration("fanout.ping_interval"),
			IdleTimeout:  v.GetDuration("fanout.idle_timeout"),
			MaxBuffered:  v.GetInt("fanout.max_buffered"),
		},
		Idempotency: IdempotencyConfig{
			TTL: v.GetDuration("idempotency.ttl"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: v.GetString("observability.otlp_endpoint"),
			MetricsAddr:  v.GetString("observability.metrics_addr"),
		},
		Workflow: WorkflowConfig{
			StrictCompletion: v.GetBool("workflow.strict_completion"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}

	return cfg, cfg.validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "spectralnotify.db")
	v.SetDefault("fanout.ping_interval", 30*time.Second)
	v.SetDefault("fanout.idle_timeout", 90*time.Second)
	v.SetDefault("fanout.max_buffered", 64)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("workflow.strict_completion", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c Config) validate() error {
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("storage.driver must be \"sqlite\" or \"postgres\", got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required when storage.driver is \"postgres\"")
	}
	if strings.TrimSpace(c.Storage.RegistryDSN) == "" {
		return fmt.Errorf("storage.registry_dsn is required (Identity & Registry / Idempotency Store are always shared Postgres)")
	}
	if c.Fanout.MaxBuffered <= 0 {
		return fmt.Errorf("fanout.max_buffered must be positive")
	}
	return nil
}
