package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

// Config holds all application configuration for the memory engine.
// It is loaded from ~/.cortex-memory/config.yaml and can be overridden by
// environment variables.
type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
}

// StorageConfig contains configuration for the SQLite-backed Store.
type StorageConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// AuditWorkingMemory is loaded from and saved to the config file, off
	// by default. No component reads it: sqlitestore never writes the
	// working_memory_changelog table, whatever its value.
	AuditWorkingMemory bool `mapstructure:"audit_working_memory" yaml:"audit_working_memory"`
}

// LoggingConfig contains configuration for zerolog-based structured logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// Format is the output encoding ("json" or "console").
	Format string `mapstructure:"format" yaml:"format"`
	// File is an optional path for persistent logs; empty means stderr only.
	File string `mapstructure:"file" yaml:"file"`
}

// MemoryConfig carries the ObservationalMemoryConfig defaults applied to
// every new (thread, resource) scope that doesn't already have a record.
type MemoryConfig struct {
	memorycore.ObservationalMemoryConfig `mapstructure:",squash" yaml:",inline"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".cortex-memory")

	return &Config{
		Storage: StorageConfig{
			DBPath:             filepath.Join(baseDir, "memory.db"),
			AuditWorkingMemory: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(baseDir, "logs", "memory.log"),
		},
		Memory: MemoryConfig{
			ObservationalMemoryConfig: memorycore.DefaultObservationalMemoryConfig(),
		},
	}
}

// Load reads configuration from the default location
// (~/.cortex-memory/config.yaml, or the path in CORTEX_MEMORY_CONFIG) and
// merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	if override := os.Getenv("CORTEX_MEMORY_CONFIG"); override != "" {
		return LoadFromPath(override)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".cortex-memory", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CORTEX_MEMORY_STORAGE_DB_PATH
	v.SetEnvPrefix("CORTEX_MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".cortex-memory", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the memory engine's data directory (~/.cortex-memory).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cortex-memory")
}

// EnsureDirectories creates all directories the config's paths depend on.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Dir(c.Storage.DBPath),
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path cannot be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format '%s', must be 'json' or 'console'", c.Logging.Format)
	}

	if c.Memory.ObservationThreshold <= 0 {
		return fmt.Errorf("memory.observation_threshold must be positive")
	}
	if c.Memory.ReflectionThreshold <= c.Memory.ObservationThreshold {
		return fmt.Errorf("memory.reflection_threshold must exceed observation_threshold")
	}
	if c.Memory.BufferActivation <= 0 || c.Memory.BufferActivation > 1 {
		return fmt.Errorf("memory.buffer_activation must be in (0, 1]")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
