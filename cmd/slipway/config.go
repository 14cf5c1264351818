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
	Deployer DeployerConfig `mapstructure:"deployer"`
	Apps     AppsConfig     `mapstructure:"apps"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds deployment history database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DeployerConfig holds process orchestration configuration. Zero values fall
// back to the deployer package defaults.
type DeployerConfig struct {
	// WorkDirsRoot is the base directory for instance working directories.
	// Empty means a slipway directory under the system temp dir.
	WorkDirsRoot string `mapstructure:"work_dirs_root"`

	// ProbeInterval is the time between readiness/health probe attempts.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// ProbeTimeout is the per-attempt probe timeout.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// StopGrace is how long an instance gets to exit after SIGTERM before
	// it is killed.
	StopGrace time.Duration `mapstructure:"stop_grace"`

	// DeleteWorkDirs removes instance working directories after undeploy.
	DeleteWorkDirs bool `mapstructure:"delete_work_dirs"`

	// JavaCommand runs JAR artifacts.
	JavaCommand string `mapstructure:"java_command"`
}

// AppsConfig holds startup app manifest configuration.
type AppsConfig struct {
	// Manifest is the path to a YAML manifest of apps to deploy at startup.
	// Empty means no startup deployments.
	Manifest string `mapstructure:"manifest"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
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
	v.SetDefault("database.dsn", "./data/slipway.db")
	v.SetDefault("deployer.work_dirs_root", "")
	v.SetDefault("deployer.probe_interval", "500ms")
	v.SetDefault("deployer.probe_timeout", "2s")
	v.SetDefault("deployer.stop_grace", "30s")
	v.SetDefault("deployer.delete_work_dirs", false)
	v.SetDefault("deployer.java_command", "java")
	v.SetDefault("apps.manifest", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
	v.SetEnvPrefix("SLIPWAY")
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
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
