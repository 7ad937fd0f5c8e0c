// Package filesystem implements a gateway that confines file management to a
// single root directory.
//
// The package is organized by concern:
//   - paths: input validation and root confinement (Resolver, ResolvedPath)
//   - directory: sorted listings and the lazy depth-first Walker
//   - operations: create, best-effort recursive delete, no-clobber rename
//   - basic: uploads and single-file downloads
//   - archives: directory archives (zip, tar.gz, tar.zst) with temp cleanup
//   - metadata: size labels and content type detection
//   - gateway: the operation surface used by transports
//
// Every operation resolves its input before touching the filesystem and
// reports failures as *Error with a Kind that transports map to status codes.
//
// Example Usage:
//
//	resolver, err := filesystem.NewResolver("/srv/files")
//	gw := filesystem.NewGateway(resolver, logger, filesystem.Options{}).WithMetrics(metrics)
//	entries, err := gw.ListDirectory(ctx, "docs")
package filesystem
