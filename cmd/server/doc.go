// Package main is the entry point for the filegate server.
//
// filegate exposes one directory tree over HTTP: listing, directory
// creation, rename, delete, single-file download, whole-directory archive
// download and multipart upload. Every request path is confined to the
// configured root.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	GATEWAY_ROOT=/srv/files ./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev -root ./data
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
