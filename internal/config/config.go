package config

import "context"

// Package config provides configuration management for aeonsaged.
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (AEONSAGE_* prefix)
//  2. YAML config file (default: /etc/aeonsage/config.yaml)
//  3. Built-in defaults
//
// Main configuration sections:
//
//   1. Server
//      - port: Listen port (default 8090)
//      - tls_enabled: Enable TLS
//      - tls_cert_path: Path to certificate
//      - tls_key_path: Path to key
//      - allowed_origins: Origins permitted to open WebSocket connections
//
//   2. Storage
//      - data_dir: Base directory for state files (default /var/lib/aeonsage)
//      - gates_file: Gate set JSON file name
//      - pin_file: PIN credential file name
//      - killswitch_file: Kill-switch record file name
//      - history_db: SQLite decision history file name
//
//   3. Approval
//      - timeout_seconds: How long approval requests stay pending
//
//   4. Audit
//      - path: Audit log file path
//      - max_size_mb / max_backups / max_age_days / compress: rotation policy
//
//   5. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Storage configuration
	Storage struct {
		DataDir        string
		GatesFile      string
		PinFile        string
		KillSwitchFile string
		HistoryDB      string
	}

	// Approval configuration
	Approval struct {
		TimeoutSeconds int
	}

	// Audit log configuration
	Audit struct {
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error
}

// NewManager creates a configuration manager reading from the given file.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     Default(),
	}
}

// NewManagerWithDefaults creates a manager with the default config path.
func NewManagerWithDefaults() Manager {
	return NewManager("/etc/aeonsage/config.yaml")
}
