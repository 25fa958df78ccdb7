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
	Log      LogConfig      `mapstructure:"log"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Host     HostConfig     `mapstructure:"host"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Security SecurityConfig `mapstructure:"security"`
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

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WebhookConfig holds webhook receiver configuration.
type WebhookConfig struct {
	// Secret signs GitHub deliveries (HMAC-SHA256). An empty secret
	// rejects all webhook traffic.
	Secret string `mapstructure:"secret"`
}

// HostConfig describes the deployment target seeded at startup.
type HostConfig struct {
	Name        string `mapstructure:"name"`
	SSHHost     string `mapstructure:"ssh_host"`
	SSHPort     int    `mapstructure:"ssh_port"`
	SSHUser     string `mapstructure:"ssh_user"`
	RepoURL     string `mapstructure:"repo_url"`
	Branch      string `mapstructure:"branch"`
	CheckoutDir string `mapstructure:"checkout_dir"`
	ComposeFile string `mapstructure:"compose_file"`
	SecretsDir  string `mapstructure:"secrets_dir"`
	SecretsFile string `mapstructure:"secrets_file"`

	// SSHKeyFile is the path to the private key used to reach the host.
	// The key is encrypted with security.encryption_key before storage.
	SSHKeyFile string `mapstructure:"ssh_key_file"`
}

// SecretsConfig holds the local secrets source configuration.
type SecretsConfig struct {
	// File is the local file whose content is materialized on the host
	// during the secrets step.
	File string `mapstructure:"file"`
}

// DeployConfig holds release execution configuration.
type DeployConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SecurityConfig holds encryption configuration.
type SecurityConfig struct {
	// EncryptionKey is the 32-byte key for encrypting SSH private keys.
	// Must be exactly 32 bytes for AES-256-GCM.
	// Set via CARAVEL_SECURITY_ENCRYPTION_KEY environment variable.
	EncryptionKey string `mapstructure:"encryption_key"`
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
	v.SetDefault("database.dsn", "./data/caravel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("webhook.secret", "")

	// Host defaults
	v.SetDefault("host.name", "")
	v.SetDefault("host.ssh_port", 22)
	v.SetDefault("host.branch", "main")
	v.SetDefault("host.compose_file", "docker-compose.yml")
	v.SetDefault("host.secrets_dir", ".streamlit")
	v.SetDefault("host.secrets_file", "secrets.toml")
	v.SetDefault("host.ssh_key_file", "")

	v.SetDefault("secrets.file", "")

	// Deploy defaults
	v.SetDefault("deploy.queue_size", 16)
	v.SetDefault("deploy.release_timeout", "15m")
	v.SetDefault("deploy.command_timeout", "5m")
	v.SetDefault("deploy.connect_timeout", "10s")

	v.SetDefault("security.encryption_key", "")

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
	v.SetEnvPrefix("CARAVEL")
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
