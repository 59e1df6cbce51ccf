package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Master   MasterConfig   `mapstructure:"master"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
}

// ServerConfig holds HTTP server configuration for the daemon mode.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIKey guards the deployment API. Empty disables the check.
	// Set via BERTH_SERVER_API_KEY in production.
	APIKey string `mapstructure:"api_key"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProxyConfig holds reverse-proxy configuration.
type ProxyConfig struct {
	// SitesDir is where rendered vhost files land. nginx must include
	// this directory.
	SitesDir string `mapstructure:"sites_dir"`

	// ReloadCommand is the command run after a vhost install. Empty
	// disables reloading (useful on hosts without nginx, e.g. tests).
	ReloadCommand []string `mapstructure:"reload_command"`
}

// MasterConfig holds master server client configuration.
type MasterConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeployConfig holds deployment pipeline configuration.
type DeployConfig struct {
	// ScratchDir is the base directory for repository working copies.
	ScratchDir string `mapstructure:"scratch_dir"`

	CloneTimeout    time.Duration `mapstructure:"clone_timeout"`
	BuildTimeout    time.Duration `mapstructure:"build_timeout"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout"`
	RegisterTimeout time.Duration `mapstructure:"register_timeout"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("database.dsn", "./data/berth.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("proxy.sites_dir", "/etc/nginx/conf.d")
	v.SetDefault("proxy.reload_command", []string{"nginx", "-s", "reload"})
	v.SetDefault("master.url", "http://localhost:9090")
	v.SetDefault("master.api_key", "")
	v.SetDefault("master.timeout", "10s")
	v.SetDefault("deploy.scratch_dir", "./data/src")
	v.SetDefault("deploy.clone_timeout", "5m")
	v.SetDefault("deploy.build_timeout", "20m")
	v.SetDefault("deploy.launch_timeout", "2m")
	v.SetDefault("deploy.register_timeout", "30s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
