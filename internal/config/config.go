// Package config handles approvald configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings for the sqlite backend
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Storage selects the persistence backend
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Server settings for the HTTP daemon
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Events controls outbox relay and fan-out
	Events EventsConfig `yaml:"events" mapstructure:"events"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where approvald stores its data (default: ~/.local/share/approvald).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/approvald).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// CommitRetries is how many times a commit is attempted while locked.
	CommitRetries int `yaml:"commit_retries" mapstructure:"commit_retries"`

	// CommitBackoff is the first delay between commit attempts.
	CommitBackoff time.Duration `yaml:"commit_backoff" mapstructure:"commit_backoff"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// StorageConfig selects where workflows and documents live.
type StorageConfig struct {
	// Backend is one of sqlite, dynamodb, memory.
	Backend string `yaml:"backend" mapstructure:"backend"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb" mapstructure:"dynamodb"`
}

// DynamoDBConfig contains DynamoDB table settings.
type DynamoDBConfig struct {
	Table    string `yaml:"table" mapstructure:"table"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// CreateTable provisions the table on startup when missing.
	CreateTable bool `yaml:"create_table" mapstructure:"create_table"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" mapstructure:"addr"`

	// JWTSecretRef names where the token signing secret comes from:
	// "env:NAME", "file:/path" or a literal value.
	JWTSecretRef string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	// JWTIssuer is the expected token issuer; empty disables the check.
	JWTIssuer string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`

	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// EventsConfig contains event delivery settings.
type EventsConfig struct {
	// RelayInterval is how often the outbox is drained.
	RelayInterval time.Duration `yaml:"relay_interval" mapstructure:"relay_interval"`

	// BatchSize caps events per relay pass.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`

	// Retention is how long delivered events are kept; zero keeps them.
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig contains Redis pub/sub settings.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr          string `yaml:"addr" mapstructure:"addr"`
	Password      string `yaml:"password" mapstructure:"password"`
	DB            int    `yaml:"db" mapstructure:"db"`
	ChannelPrefix string `yaml:"channel_prefix" mapstructure:"channel_prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "approvald"),
			ConfigDir: filepath.Join(homeDir, ".config", "approvald"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/approvald.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
			CommitRetries:  3,
			CommitBackoff:  50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DynamoDB: DynamoDBConfig{
				Table:  "approvals",
				Region: "us-east-1",
			},
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8420",
			JWTSecretRef:    "env:APPROVALS_JWT_SECRET",
			JWTIssuer:       "approvald",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			RelayInterval: time.Second,
			BatchSize:     100,
			Redis: RedisConfig{
				Addr:          "127.0.0.1:6379",
				ChannelPrefix: "approvals.",
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Database.MaxConnections < 1 {
			return fmt.Errorf("database.max_connections must be at least 1")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, dynamodb, memory")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}

	if c.Events.RelayInterval < 10*time.Millisecond {
		return fmt.Errorf("events.relay_interval must be at least 10ms")
	}
	if c.Events.BatchSize < 1 {
		return fmt.Errorf("events.batch_size must be at least 1")
	}
	if c.Events.Retention < 0 {
		return fmt.Errorf("events.retention must not be negative")
	}
	if c.Events.Redis.Enabled && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events.redis.addr is required when redis is enabled")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "approvald.db")
}

// JWTSecret resolves Server.JWTSecretRef.
func (c *Config) JWTSecret() ([]byte, error) {
	ref := strings.TrimSpace(c.Server.JWTSecretRef)
	switch {
	case ref == "":
		return nil, fmt.Errorf("server.jwt_secret is not set")
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value := os.Getenv(name)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is empty", name)
		}
		return []byte(value), nil
	case strings.HasPrefix(ref, "file:"):
		data, err := os.ReadFile(expandTilde(strings.TrimPrefix(ref, "file:")))
		if err != nil {
			return nil, fmt.Errorf("failed to read jwt secret: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return nil, fmt.Errorf("jwt secret file is empty")
		}
		return []byte(secret), nil
	default:
		return []byte(ref), nil
	}
}
