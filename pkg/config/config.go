package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider modes
const (
	ProviderModeSimulated = "simulated"
	ProviderModeRedis     = "redis"
)

// History backends
const (
	HistoryBackendMemory   = "memory"
	HistoryBackendPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	History     HistoryConfig     `mapstructure:"history"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Name                   string `mapstructure:"name"`
	SSLMode                string `mapstructure:"ssl_mode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Password            string `mapstructure:"password"`
	DB                  int    `mapstructure:"db"`
	PoolSize            int    `mapstructure:"pool_size"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ProviderConfig selects and tunes the ad provider
type ProviderConfig struct {
	Mode                string                  `mapstructure:"mode"`
	CommandChannel      string                  `mapstructure:"command_channel"`
	EventChannel        string                  `mapstructure:"event_channel"`
	CommandTimeoutMs    int                     `mapstructure:"command_timeout_ms"`
	LoadedKeyTTLSeconds int                     `mapstructure:"loaded_key_ttl_seconds"`
	Simulated           SimulatedProviderConfig `mapstructure:"simulated"`
}

// CommandTimeout bounds a single Redis round trip
func (p ProviderConfig) CommandTimeout() time.Duration {
	return time.Duration(p.CommandTimeoutMs) * time.Millisecond
}

// LoadedKeyTTL is how long a loaded marker outlives its last refresh
func (p ProviderConfig) LoadedKeyTTL() time.Duration {
	return time.Duration(p.LoadedKeyTTLSeconds) * time.Second
}

// SimulatedProviderConfig holds timings and odds for the simulated provider
type SimulatedProviderConfig struct {
	LoadDelayMs       int     `mapstructure:"load_delay_ms"`
	DisplayDurationMs int     `mapstructure:"display_duration_ms"`
	FillRate          float64 `mapstructure:"fill_rate"`
	ClickRate         float64 `mapstructure:"click_rate"`
	Seed              int64   `mapstructure:"seed"`
}

// CoordinatorConfig holds caller-facing request settings
type CoordinatorConfig struct {
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
}

// RequestTimeout is how long a caller waits for a result
func (c CoordinatorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HistoryConfig holds operation history configuration
type HistoryConfig struct {
	Backend     string `mapstructure:"backend"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var envPattern = regexp.MustCompile(`\{([A-Z_]+)-([^}]*)\}`)

// Load loads configuration from the environment-specific file and
// environment variables
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}

	configName := "config"
	if env == "production" {
		configName = "production"
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath("/app/configs")

	return load(v)
}

// LoadFile loads configuration from an explicit YAML file
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// A missing config file is fine when searching, defaults apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	raw := make(map[string]interface{})
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	processEnvPatterns(raw)

	processed := viper.New()
	for key, value := range raw {
		processed.Set(key, value)
	}

	var cfg Config
	if err := processed.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "interstitial")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 30)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.read_timeout_seconds", 3)
	v.SetDefault("redis.write_timeout_seconds", 3)

	v.SetDefault("provider.mode", ProviderModeSimulated)
	v.SetDefault("provider.command_channel", "interstitial:commands")
	v.SetDefault("provider.event_channel", "interstitial:events")
	v.SetDefault("provider.command_timeout_ms", 2000)
	v.SetDefault("provider.loaded_key_ttl_seconds", 3600)
	v.SetDefault("provider.simulated.load_delay_ms", 800)
	v.SetDefault("provider.simulated.display_duration_ms", 3000)
	v.SetDefault("provider.simulated.fill_rate", 0.9)
	v.SetDefault("provider.simulated.click_rate", 0.1)

	v.SetDefault("coordinator.request_timeout_ms", 10000)

	v.SetDefault("history.backend", HistoryBackendMemory)
	v.SetDefault("history.recent_limit", 50)

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.path", "/metrics")
}

// Validate checks enumerated settings and ranges
func (c *Config) Validate() error {
	switch c.Provider.Mode {
	case ProviderModeSimulated, ProviderModeRedis:
	default:
		return fmt.Errorf("invalid provider mode %q", c.Provider.Mode)
	}

	switch c.History.Backend {
	case HistoryBackendMemory, HistoryBackendPostgres:
	default:
		return fmt.Errorf("invalid history backend %q", c.History.Backend)
	}

	sim := c.Provider.Simulated
	if sim.FillRate < 0 || sim.FillRate > 1 || sim.ClickRate < 0 || sim.ClickRate > 1 {
		return fmt.Errorf("simulated provider rates must be within [0, 1]")
	}

	if c.Coordinator.RequestTimeoutMs < 0 {
		return fmt.Errorf("coordinator request timeout cannot be negative")
	}

	return nil
}

// processEnvPatterns processes {ENV-default} patterns recursively
func processEnvPatterns(config map[string]interface{}) {
	for key, value := range config {
		config[key] = processValue(value)
	}
}

// processValue processes a single value for environment variable substitution
func processValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if matches := envPattern.FindStringSubmatch(v); len(matches) == 3 {
			envVar := matches[1]
			defaultValue := matches[2]

			if envValue := os.Getenv(envVar); envValue != "" {
				return convertValue(envValue, defaultValue)
			}
			return convertValue(defaultValue, defaultValue)
		}
		return v
	case map[string]interface{}:
		processEnvPatterns(v)
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = processValue(item)
		}
		return v
	default:
		return v
	}
}

// convertValue converts string values to appropriate types
func convertValue(value, defaultValue string) interface{} {
	// An empty default marks a free-form string setting, e.g. a password
	if defaultValue == "" {
		return value
	}

	if value == "" {
		return convertToType(defaultValue)
	}

	return convertToType(value)
}

// convertToType converts a string to the most appropriate type
func convertToType(value string) interface{} {
	if value == "" {
		return ""
	}

	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}

	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}

	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}

	return value
}
