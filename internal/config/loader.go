package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. APPROVALS_DATABASE_PATH.
const EnvPrefix = "APPROVALS"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// BindFlags binds command-line flags to config keys. Keys map to flag names,
// e.g. {"server.addr": "addr"}. Unknown flags are skipped.
func (l *Loader) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper's Unmarshal doesn't merge env vars into nested structs when a
	// config file is present.
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "approvald"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "approvald"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicit bindings; Unmarshal ignores unbound env vars.
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)
	v.SetDefault("database.commit_retries", cfg.Database.CommitRetries)
	v.SetDefault("database.commit_backoff", cfg.Database.CommitBackoff)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Storage
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.dynamodb.table", cfg.Storage.DynamoDB.Table)
	v.SetDefault("storage.dynamodb.region", cfg.Storage.DynamoDB.Region)
	v.SetDefault("storage.dynamodb.endpoint", cfg.Storage.DynamoDB.Endpoint)
	v.SetDefault("storage.dynamodb.create_table", cfg.Storage.DynamoDB.CreateTable)

	// Server
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.jwt_secret", cfg.Server.JWTSecretRef)
	v.SetDefault("server.jwt_issuer", cfg.Server.JWTIssuer)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	// Events
	v.SetDefault("events.relay_interval", cfg.Events.RelayInterval)
	v.SetDefault("events.batch_size", cfg.Events.BatchSize)
	v.SetDefault("events.retention", cfg.Events.Retention)
	v.SetDefault("events.redis.enabled", cfg.Events.Redis.Enabled)
	v.SetDefault("events.redis.addr", cfg.Events.Redis.Addr)
	v.SetDefault("events.redis.password", cfg.Events.Redis.Password)
	v.SetDefault("events.redis.db", cfg.Events.Redis.DB)
	v.SetDefault("events.redis.channel_prefix", cfg.Events.Redis.ChannelPrefix)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// envBindings lists every key that accepts an APPROVALS_* override.
var envBindings = []string{
	"global.data_dir",
	"global.config_dir",
	"database.path",
	"database.max_connections",
	"database.busy_timeout_ms",
	"database.commit_retries",
	"database.commit_backoff",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"storage.backend",
	"storage.dynamodb.table",
	"storage.dynamodb.region",
	"storage.dynamodb.endpoint",
	"storage.dynamodb.create_table",
	"server.addr",
	"server.jwt_secret",
	"server.jwt_issuer",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",
	"events.relay_interval",
	"events.batch_size",
	"events.retention",
	"events.redis.enabled",
	"events.redis.addr",
	"events.redis.password",
	"events.redis.db",
	"events.redis.channel_prefix",
}

// EnvVar returns the environment variable for a config key:
// storage.dynamodb.table -> APPROVALS_STORAGE_DYNAMODB_TABLE.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envBindings {
		_ = v.BindEnv(key, EnvVar(key))
	}
}

// applyEnvOverrides copies string overrides Unmarshal may have missed.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if path := v.GetString("database.path"); path != "" {
		cfg.Database.Path = path
	}
	if dataDir := v.GetString("global.data_dir"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}
	if configDir := v.GetString("global.config_dir"); configDir != "" {
		cfg.Global.ConfigDir = configDir
	}
	if level := v.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" {
		cfg.Logging.Format = format
	}
	if backend := v.GetString("storage.backend"); backend != "" {
		cfg.Storage.Backend = strings.ToLower(backend)
	}
	if table := v.GetString("storage.dynamodb.table"); table != "" {
		cfg.Storage.DynamoDB.Table = table
	}
	if endpoint := v.GetString("storage.dynamodb.endpoint"); endpoint != "" {
		cfg.Storage.DynamoDB.Endpoint = endpoint
	}
	if addr := v.GetString("server.addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := v.GetString("events.redis.addr"); addr != "" {
		cfg.Events.Redis.Addr = addr
	}
}
