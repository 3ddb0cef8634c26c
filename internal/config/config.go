package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the Table Engine's complete runtime configuration.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Realtime  RealtimeConfig `mapstructure:"realtime"`
	DepGraph  DepGraphConfig `mapstructure:"depgraph"`
	Tracing   TracingConfig  `mapstructure:"tracing"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Debug     bool           `mapstructure:"debug"`
}

// ServerConfig controls the OT subscription / admin HTTP listener.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings for both the runtime
// role (used by RecordStore/SchemaProvider DDL+DML) and an optional admin
// role used for migrations.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	AdminUser       string        `mapstructure:"admin_user"`
	Password        string        `mapstructure:"password"`
	AdminPassword   string        `mapstructure:"admin_password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RealtimeConfig tunes the OTChannel's subscriber manager.
type RealtimeConfig struct {
	// Backend selects the pub/sub bus used to fan OT ops out to
	// subscribers across instances: "local", "postgres", or "redis".
	Backend                string        `mapstructure:"backend"`
	RedisURL               string        `mapstructure:"redis_url"`
	MaxConnections         int           `mapstructure:"max_connections"`
	MaxConnectionsPerUser  int           `mapstructure:"max_connections_per_user"`
	MaxConnectionsPerIP    int           `mapstructure:"max_connections_per_ip"`
	SlowClientCheckPeriod  time.Duration `mapstructure:"slow_client_check_period"`
	SlowClientMaxQueueSize int           `mapstructure:"slow_client_max_queue_size"`
}

// DepGraphConfig selects the DependencyGraph's cache repository backend.
type DepGraphConfig struct {
	// Backend is "memory" (default, single instance) or "redis" (shared
	// across instances so a recompute invalidation in one process is seen
	// by all).
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from (in priority order) environment variables
// prefixed TABLEENGINE_, a tableengine.yaml config file, and finally the
// defaults set below.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("no .env file found - using environment variables and defaults")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TABLEENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./tableengine.yaml",
		"./tableengine.yml",
		"./config/tableengine.yaml",
		"/etc/tableengine/tableengine.yaml",
	}

	var configLoaded bool
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("config file found but could not be parsed, using environment and defaults")
			} else {
				log.Info().Str("file", path).Msg("config file loaded")
				configLoaded = true
			}
			break
		}
	}
	if !configLoaded {
		log.Info().Msg("no config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() error {
	locations := []string{".env", ".env.local", "../.env"}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if err := godotenv.Load(loc); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", loc, err)
			}
			log.Info().Str("file", loc).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("server.address", ":8090")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "tableengine")
	viper.SetDefault("database.database", "tableengine")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 20)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")

	viper.SetDefault("realtime.backend", "local")
	viper.SetDefault("realtime.max_connections", 10000)
	viper.SetDefault("realtime.max_connections_per_user", 50)
	viper.SetDefault("realtime.max_connections_per_ip", 200)
	viper.SetDefault("realtime.slow_client_check_period", "15s")
	viper.SetDefault("realtime.slow_client_max_queue_size", 256)

	viper.SetDefault("depgraph.backend", "memory")
	viper.SetDefault("depgraph.ttl", "5m")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "tableengine")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.sample_rate", 1.0)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for invalid combinations not already
// covered by defaults.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if c.Realtime.Backend == "redis" && c.Realtime.RedisURL == "" {
		return fmt.Errorf("realtime config: redis_url is required when backend is \"redis\"")
	}
	if c.DepGraph.Backend == "redis" && c.DepGraph.RedisURL == "" {
		return fmt.Errorf("depgraph config: redis_url is required when backend is \"redis\"")
	}
	return nil
}

func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("host is required")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		return fmt.Errorf("invalid port: %d", dc.Port)
	}
	if dc.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// ConnectionString builds a pgx-compatible DSN for the runtime role.
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// AdminConnectionString builds a DSN for the admin role used during
// migrations, falling back to the runtime role's credentials when no
// separate admin role is configured.
func (dc *DatabaseConfig) AdminConnectionString() string {
	user, password := dc.AdminUser, dc.AdminPassword
	if user == "" {
		user = dc.User
	}
	if password == "" {
		password = dc.Password
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}
