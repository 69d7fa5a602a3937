package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "console" {
		t.Errorf("expected log format 'console', got '%s'", cfg.Logging.Format)
	}

	if cfg.Storage.AuditWorkingMemory {
		t.Error("expected working-memory audit to be disabled by default")
	}

	if cfg.Memory.ObservationThreshold != 30_000 {
		t.Errorf("expected observation threshold 30000, got %d", cfg.Memory.ObservationThreshold)
	}
	if cfg.Memory.ReflectionThreshold != 40_000 {
		t.Errorf("expected reflection threshold 40000, got %d", cfg.Memory.ReflectionThreshold)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".cortex-memory", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}

	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}

	if cfg2.Memory.ObservationThreshold != cfg.Memory.ObservationThreshold {
		t.Error("config values changed on reload")
	}
}

func TestSaveToPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".cortex-memory", "config.yaml")

	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Memory.ObservationThreshold = 10_000

	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}

	if loaded.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", loaded.Logging.Level)
	}

	if loaded.Memory.ObservationThreshold != 10_000 {
		t.Errorf("expected observation threshold 10000, got %d", loaded.Memory.ObservationThreshold)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := Default()
	dataDir := cfg.GetDataDir()

	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, ".cortex-memory")

	if dataDir != expected {
		t.Errorf("expected data dir '%s', got '%s'", expected, dataDir)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &Config{
		Storage: StorageConfig{
			DBPath: filepath.Join(tempDir, ".cortex-memory", "data", "memory.db"),
		},
		Logging: LoggingConfig{
			File: filepath.Join(tempDir, ".cortex-memory", "logs", "memory.log"),
		},
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to ensure directories: %v", err)
	}

	dirs := []string{
		filepath.Join(tempDir, ".cortex-memory", "data"),
		filepath.Join(tempDir, ".cortex-memory", "logs"),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory '%s' was not created", dir)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Default()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(*Config) {}, wantErr: false},
		{name: "empty db path", mutate: func(c *Config) { c.Storage.DBPath = "" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "zero observation threshold", mutate: func(c *Config) { c.Memory.ObservationThreshold = 0 }, wantErr: true},
		{
			name: "reflection threshold below observation threshold",
			mutate: func(c *Config) {
				c.Memory.ObservationThreshold = 1000
				c.Memory.ReflectionThreshold = 500
			},
			wantErr: true,
		},
		{name: "buffer activation out of range", mutate: func(c *Config) { c.Memory.BufferActivation = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "path with tilde",
			input:    "~/.cortex-memory/config.yaml",
			expected: filepath.Join(homeDir, ".cortex-memory", "config.yaml"),
		},
		{
			name:     "absolute path",
			input:    "/usr/local/bin/memoryctl",
			expected: "/usr/local/bin/memoryctl",
		},
		{
			name:     "relative path",
			input:    "./config.yaml",
			expected: "./config.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%s) = %s, expected %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestConfigSerializationRoundTrips(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	original := Default()
	original.Storage.AuditWorkingMemory = true
	original.Logging.Level = "debug"
	original.Memory.BufferTokens = 8_000
	original.Memory.LastMessages = 20

	if err := original.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !loaded.Storage.AuditWorkingMemory {
		t.Error("audit flag should round-trip as true")
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("log level mismatch: got %s, want debug", loaded.Logging.Level)
	}
	if loaded.Memory.BufferTokens != 8_000 {
		t.Errorf("buffer tokens mismatch: got %d, want 8000", loaded.Memory.BufferTokens)
	}
	if loaded.Memory.LastMessages != 20 {
		t.Errorf("last messages mismatch: got %d, want 20", loaded.Memory.LastMessages)
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	cfg := Default()
	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	os.Setenv("CORTEX_MEMORY_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("CORTEX_MEMORY_LOGGING_LEVEL")

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Logging.Level != "debug" {
		t.Errorf("expected env override to set log level to 'debug', got '%s'", loaded.Logging.Level)
	}
}
