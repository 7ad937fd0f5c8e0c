package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Recorder receives gateway metrics.
type Recorder interface {
	ObserveOperation(op, outcome string, duration time.Duration)
	ArchiveEntry(result string)
	ArchiveBytes(format string, n int64)
	UploadBytes(n int64)
	TempCleanupFailed()
	ArchiveJobStarted()
	ArchiveJobFinished()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ArchiveEntry(string)                            {}
func (nopRecorder) ArchiveBytes(string, int64)                     {}
func (nopRecorder) UploadBytes(int64)                              {}
func (nopRecorder) TempCleanupFailed()                             {}
func (nopRecorder) ArchiveJobStarted()                             {}
func (nopRecorder) ArchiveJobFinished()                            {}

// Options tunes a Gateway.
type Options struct {
	// TempDir is where archive jobs create their private directories.
	// Empty means os.TempDir().
	TempDir string
	// Format is used when a download does not name one.
	Format ArchiveFormat
	// Exclude holds doublestar patterns matched against paths relative to
	// the archived directory.
	Exclude []string
}

// Validate checks the exclude patterns and default format, and that archive
// jobs would not be created inside the served tree.
func (o Options) Validate(resolver *Resolver) error {
	if o.Format != "" {
		if _, err := ParseArchiveFormat(string(o.Format)); err != nil {
			return err
		}
	}
	for _, pattern := range o.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if resolver != nil {
		temp := o.TempDir
		if temp == "" {
			temp = os.TempDir()
		}
		abs, err := filepath.Abs(temp)
		if err != nil {
			return fmt.Errorf("abs temp dir %s: %w", temp, err)
		}
		if resolver.Within(abs) {
			return fmt.Errorf("temp dir %s lies inside root %s", abs, resolver.Root())
		}
	}
	return nil
}

// Gateway is the operation surface. Every operation resolves its input
// through the Resolver before touching the filesystem.
type Gateway struct {
	resolver *Resolver
	logger   *zap.Logger
	metrics  Recorder
	opts     Options
}

// NewGateway creates a gateway over resolver's root.
func NewGateway(resolver *Resolver, logger *zap.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Format == "" {
		opts.Format = FormatZip
	}
	return &Gateway{
		resolver: resolver,
		logger:   logger,
		metrics:  nopRecorder{},
		opts:     opts,
	}
}

// WithMetrics adds metrics recording to the gateway.
func (g *Gateway) WithMetrics(m Recorder) *Gateway {
	if m != nil {
		g.metrics = m
	}
	return g
}

// Root returns the canonical root directory.
func (g *Gateway) Root() string { return g.resolver.Root() }

// TempDir returns the directory archive jobs are created in.
func (g *Gateway) TempDir() string {
	if g.opts.TempDir == "" {
		return os.TempDir()
	}
	return g.opts.TempDir
}

// Readiness says whether the gateway's directories are usable.
type Readiness struct {
	RootReadable    bool `json:"rootReadable"`
	TempDirWritable bool `json:"tempDirWritable"`
}

// Ready probes the root and the archive temp directory.
func (g *Gateway) Ready() Readiness {
	temp := g.TempDir()
	info, err := os.Stat(temp)
	return Readiness{
		RootReadable:    canRead(g.resolver.Root()),
		TempDirWritable: err == nil && info.IsDir() && canWrite(temp),
	}
}

// DefaultFormat returns the archive format used when none is requested.
func (g *Gateway) DefaultFormat() ArchiveFormat { return g.opts.Format }

// ListDirectory returns the sorted children of rel.
func (g *Gateway) ListDirectory(ctx context.Context, rel string) (entries []EntryDescriptor, err error) {
	defer g.observe("list", rel, time.Now(), &err)

	dir, err := g.resolver.Resolve(rel, true, true)
	if err != nil {
		return nil, err
	}
	return listDirectory(dir)
}

// CreateDirectory creates rel, including missing parents.
func (g *Gateway) CreateDirectory(ctx context.Context, rel string) (created ResolvedPath, err error) {
	defer g.observe("mkdir", rel, time.Now(), &err)

	dir, err := g.resolver.Resolve(rel, false, false)
	if err != nil {
		return ResolvedPath{}, err
	}
	if err := g.createDirectory(dir); err != nil {
		return ResolvedPath{}, err
	}
	g.logger.Info("Directory created", zap.String("path", dir.String()))
	return dir, nil
}

// DeleteEntry removes a file or a directory tree.
func (g *Gateway) DeleteEntry(ctx context.Context, rel string) (result *DeleteResult, err error) {
	defer g.observe("delete", rel, time.Now(), &err)

	target, err := g.resolver.Resolve(rel, true, true)
	if err != nil {
		return nil, err
	}
	result, err = g.deleteEntry(ctx, target)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Entry deleted",
		zap.String("path", result.Path),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// RenameEntry moves oldRel to newRel. An existing destination is never
// replaced.
func (g *Gateway) RenameEntry(ctx context.Context, oldRel, newRel string) (moved ResolvedPath, err error) {
	defer g.observe("rename", oldRel, time.Now(), &err)

	src, err := g.resolver.Resolve(oldRel, true, true)
	if err != nil {
		return ResolvedPath{}, err
	}
	dst, err := g.resolver.Resolve(newRel, false, false)
	if err != nil {
		return ResolvedPath{}, err
	}
	if err := g.renameEntry(src, dst); err != nil {
		return ResolvedPath{}, err
	}
	g.logger.Info("Entry renamed",
		zap.String("from", src.String()),
		zap.String("to", dst.String()))
	return dst, nil
}

// DownloadFile opens a regular file. The caller closes the returned content.
func (g *Gateway) DownloadFile(ctx context.Context, rel string) (download *FileDownload, err error) {
	defer g.observe("download", rel, time.Now(), &err)

	file, err := g.resolver.Resolve(rel, true, true)
	if err != nil {
		return nil, err
	}
	return g.openDownload(file)
}

// DownloadDirectoryArchive packs rel into an archive. An empty format selects
// the gateway default. The caller must Close the stream.
func (g *Gateway) DownloadDirectoryArchive(ctx context.Context, rel string, format ArchiveFormat) (stream *ArchiveStream, err error) {
	defer g.observe("archive", rel, time.Now(), &err)

	if format == "" {
		format = g.opts.Format
	}
	if format, err = ParseArchiveFormat(string(format)); err != nil {
		return nil, newError(KindInvalidPath, "archive", rel, err)
	}
	dir, err := g.resolver.Resolve(rel, true, true)
	if err != nil {
		return nil, err
	}
	return g.archive(ctx, dir, format)
}

// UploadFiles writes items beneath targetRel, inside a new folderName
// directory when one is given.
func (g *Gateway) UploadFiles(ctx context.Context, targetRel, folderName string, items []UploadItem) (result *UploadResult, err error) {
	defer g.observe("upload", targetRel, time.Now(), &err)

	target, err := g.resolver.Resolve(targetRel, true, true)
	if err != nil {
		return nil, err
	}
	result, err = g.ingest(ctx, target, folderName, items)
	if err != nil {
		return nil, err
	}
	g.metrics.UploadBytes(result.Bytes)
	g.logger.Info("Upload completed",
		zap.String("path", target.String()),
		zap.Int("files", len(result.Files)),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

// observe records the outcome of an operation. Forbidden outcomes are logged
// at warn since they usually mean a probing client.
func (g *Gateway) observe(op, rel string, start time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		kind := KindOf(err)
		outcome = kind.String()
		switch kind {
		case KindForbidden:
			g.logger.Warn("Rejected path",
				zap.String("op", op),
				zap.String("input", rel),
				zap.Error(err))
		case KindIOError:
			g.logger.Error("Operation failed",
				zap.String("op", op),
				zap.String("input", rel),
				zap.Error(err))
		default:
			g.logger.Debug("Operation refused",
				zap.String("op", op),
				zap.String("input", rel),
				zap.Error(err))
		}
	}
	g.metrics.ObserveOperation(op, outcome, time.Since(start))
}
