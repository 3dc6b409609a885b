// Package config provides 12-factor configuration management for the
// extension host.
//
// Configuration is loaded from environment variables with sensible
// defaults. CLI flags can override environment variables for
// development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Extensions: seed directory and sandbox timing
//   - Storage: persistent extension storage location
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - EXTENSIONS_DIR, EXT_ACTIVATION_TIMEOUT, EXT_DEACTIVATE_GRACE, EXT_EXEC_TIMEOUT
//   - STORAGE_DIR
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
