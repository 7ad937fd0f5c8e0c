// Package config provides 12-factor configuration management for the file gateway.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Gateway: Root directory, archive temp dir, archive format and excludes
//   - Upload: Request size limit and in-memory multipart threshold
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - CORS: Allowed browser origins
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Serving %s on %s:%s\n", cfg.Gateway.Root, cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - GATEWAY_ROOT, GATEWAY_TEMP_DIR, ARCHIVE_FORMAT, ARCHIVE_EXCLUDE
//   - MAX_UPLOAD_BYTES, UPLOAD_MEMORY_BYTES
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CORS_ORIGINS
package config
