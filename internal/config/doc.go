// Package config provides configuration management for the memory engine.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.cortex-memory/config.yaml (or the path
// named by CORTEX_MEMORY_CONFIG) and is automatically created with sensible
// defaults on first use. The file structure mirrors the Go structs defined
// in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the CORTEX_MEMORY_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - CORTEX_MEMORY_STORAGE_DB_PATH=/data/memory.db
//   - CORTEX_MEMORY_LOGGING_LEVEL=debug
//   - CORTEX_MEMORY_MEMORY_OBSERVATION_THRESHOLD=40000
//
// # Usage Example
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/normanking/cortex-memory/internal/config"
//	)
//
//	func main() {
//	    // Load configuration
//	    cfg, err := config.Load()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // Ensure all directories exist
//	    if err := cfg.EnsureDirectories(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // Validate configuration
//	    if err := cfg.Validate(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // Use configuration
//	    log.Printf("db at %s, observation threshold %d", cfg.Storage.DBPath, cfg.Memory.ObservationThreshold)
//	}
//
// # Configuration Sections
//
//   - Storage: SQLite database path and the audit_working_memory flag
//     (no component reads the flag).
//   - Logging: zerolog level, output format, and optional log file.
//   - Memory: ObservationalMemoryConfig defaults (observation/reflection
//     thresholds, buffer sizing) applied to every new scope.
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in
// all path configurations, making config files portable across systems.
//
// # Validation
//
// The Validate() method checks configuration for common errors:
//   - Valid enum values (log level, log format)
//   - Numeric range validation on the Memory thresholds
//   - Required field presence
//
// # Thread Safety
//
// Config instances are not thread-safe. If you need concurrent access,
// wrap the config in a sync.RWMutex or create separate instances.
package config
