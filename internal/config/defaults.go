package config

// Default returns a configuration with all default values.
func Default() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Storage defaults
	cfg.Storage.DataDir = "/var/lib/aeonsage"
	cfg.Storage.GatesFile = "gates.json"
	cfg.Storage.PinFile = "pin.json"
	cfg.Storage.KillSwitchFile = "killswitch.json"
	cfg.Storage.HistoryDB = "history.db"

	// Approval defaults
	cfg.Approval.TimeoutSeconds = 60

	// Audit defaults
	cfg.Audit.Path = "/var/log/aeonsage/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 5
	cfg.Audit.MaxAgeDays = 90
	cfg.Audit.Compress = true

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
