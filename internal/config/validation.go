package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, &ValidationError{
			Field:   "storage.data_dir",
			Message: "data_dir is required",
		})
	}
	for field, name := range map[string]string{
		"storage.gates_file":      c.Storage.GatesFile,
		"storage.pin_file":        c.Storage.PinFile,
		"storage.killswitch_file": c.Storage.KillSwitchFile,
		"storage.history_db":      c.Storage.HistoryDB,
	} {
		if name == "" {
			errs = append(errs, &ValidationError{
				Field:   field,
				Message: "file name is required",
			})
		}
	}

	if c.Approval.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "approval.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Approval.TimeoutSeconds),
		})
	}

	if c.Audit.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.path",
			Message: "audit log path is required",
		})
	}
	if c.Audit.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Audit.MaxSizeMB),
		})
	}
	if c.Audit.MaxBackups < 0 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_backups",
			Message: fmt.Sprintf("max_backups cannot be negative, got %d", c.Audit.MaxBackups),
		})
	}
	if c.Audit.MaxAgeDays < 0 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_age_days",
			Message: fmt.Sprintf("max_age_days cannot be negative, got %d", c.Audit.MaxAgeDays),
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
