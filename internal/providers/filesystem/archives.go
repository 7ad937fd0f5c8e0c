package filesystem

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// ArchiveFormat selects the container used for directory downloads.
type ArchiveFormat string

const (
	FormatZip     ArchiveFormat = "zip"
	FormatTarGzip ArchiveFormat = "tar.gz"
	FormatTarZstd ArchiveFormat = "tar.zst"
)

// ParseArchiveFormat parses a format name. The empty string selects zip.
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zip":
		return FormatZip, nil
	case "tar.gz", "tgz", "gzip":
		return FormatTarGzip, nil
	case "tar.zst", "tar.zstd", "zstd":
		return FormatTarZstd, nil
	default:
		return "", fmt.Errorf("unsupported archive format %q", s)
	}
}

// Extension returns the file extension including the leading dot.
func (f ArchiveFormat) Extension() string {
	return "." + string(f)
}

// ContentType returns the media type of the archive.
func (f ArchiveFormat) ContentType() string {
	switch f {
	case FormatTarGzip:
		return "application/gzip"
	case FormatTarZstd:
		return "application/zstd"
	default:
		return "application/zip"
	}
}

// safeArchiveName matches relative paths allowed into an archive.
var safeArchiveName = regexp.MustCompile(`^[A-Za-z0-9_\-./]+$`)

// Archive entry outcomes reported to the metrics recorder.
const (
	entryAdded     = "added"
	entrySkipped   = "skipped"
	entryReadError = "read_error"
)

// ArchiveStream is a finished archive ready to be sent. Close releases the
// file and removes every temporary path; it is safe to call more than once.
type ArchiveStream struct {
	// Name is the suggested download name, "<dir><ext>".
	Name        string
	Format      ArchiveFormat
	Size        int64
	ContentType string
	Files       int
	Skipped     int

	file *os.File
	job  *archiveJob
	once sync.Once
	err  error
}

func (s *ArchiveStream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// Close closes the archive and deletes its temporary directory.
func (s *ArchiveStream) Close() error {
	s.once.Do(func() {
		s.err = s.job.cleanup()
	})
	return s.err
}

type jobState int

const (
	jobCreated jobState = iota
	jobWalking
	jobFinalized
	jobStreaming
	jobCleanedUp
)

// archiveJob owns the private working directory of one archive request.
type archiveJob struct {
	mu      sync.Mutex
	state   jobState
	dir     string
	path    string
	file    *os.File
	temps   []string
	logger  *zap.Logger
	metrics Recorder
}

func newArchiveJob(tempRoot string, format ArchiveFormat, logger *zap.Logger, metrics Recorder) (*archiveJob, error) {
	dir, err := os.MkdirTemp(tempRoot, "zip_temp_")
	if err != nil {
		return nil, fmt.Errorf("create archive temp dir: %w", err)
	}
	metrics.ArchiveJobStarted()
	return &archiveJob{
		state:   jobCreated,
		dir:     dir,
		path:    filepath.Join(dir, "directory_"+uuid.NewString()+format.Extension()),
		temps:   []string{dir},
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (j *archiveJob) create() (*os.File, error) {
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	j.file = f
	j.temps = append(j.temps, j.path)
	return f, nil
}

func (j *archiveJob) setState(s jobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// cleanup closes the archive file and removes temp paths newest first.
func (j *archiveJob) cleanup() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == jobCleanedUp {
		return nil
	}

	var errs []error
	if j.file != nil {
		if err := j.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for i := len(j.temps) - 1; i >= 0; i-- {
		p := j.temps[i]
		err := os.Remove(p)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		// A non-empty directory means something else wrote into it.
		_, skipped, rerr := removeTree(context.Background(), p, j.logger)
		if rerr == nil && len(skipped) == 0 {
			continue
		}
		if rerr == nil {
			rerr = fmt.Errorf("%d entries left behind", len(skipped))
		}
		j.logger.Error("Failed to remove archive temp path",
			zap.String("path", p),
			zap.Error(rerr))
		j.metrics.TempCleanupFailed()
		errs = append(errs, fmt.Errorf("remove %s: %w", p, rerr))
	}

	j.state = jobCleanedUp
	j.metrics.ArchiveJobFinished()
	return errors.Join(errs...)
}

// archiveWriter is the container-specific half of the packer.
type archiveWriter interface {
	AddDir(name string, info fs.FileInfo) error
	// AddFile copies r into a new entry. Errors from r are not returned;
	// callers detect them through trackedReader.
	AddFile(name string, info fs.FileInfo, r *trackedReader) (int64, error)
	Close() error
}

func newArchiveWriter(w io.Writer, format ArchiveFormat) (archiveWriter, error) {
	switch format {
	case FormatZip:
		return &zipWriter{zw: zip.NewWriter(w)}, nil
	case FormatTarGzip:
		return newTarWriter(gzip.NewWriter(w)), nil
	case FormatTarZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return newTarWriter(enc), nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

type zipWriter struct {
	zw *zip.Writer
}

func (z *zipWriter) AddDir(name string, info fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name + "/"
	hdr.Method = zip.Store
	_, err = z.zw.CreateHeader(hdr)
	return err
}

func (z *zipWriter) AddFile(name string, info fs.FileInfo, r *trackedReader) (int64, error) {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	return copyEntry(w, r)
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}

type tarWriter struct {
	tw   *tar.Writer
	comp io.WriteCloser
}

func newTarWriter(comp io.WriteCloser) *tarWriter {
	return &tarWriter{tw: tar.NewWriter(comp), comp: comp}
}

func (t *tarWriter) AddDir(name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name + "/"
	return t.tw.WriteHeader(hdr)
}

// AddFile writes exactly the size recorded in the header. A file that
// shrinks while being read is padded with zeros; one that grows is cut.
func (t *tarWriter) AddFile(name string, info fs.FileInfo, r *trackedReader) (int64, error) {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	hdr.Name = name
	if err := t.tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	n, err := copyEntry(t.tw, &trackedReader{r: io.LimitReader(r, hdr.Size), parent: r})
	if err != nil {
		return n, err
	}
	if n < hdr.Size {
		if err := writeZeros(t.tw, hdr.Size-n); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (t *tarWriter) Close() error {
	if err := t.tw.Close(); err != nil {
		t.comp.Close()
		return err
	}
	return t.comp.Close()
}

// trackedReader remembers the first read error so a failed copy can be
// attributed to the source or the destination.
type trackedReader struct {
	r      io.Reader
	err    error
	parent *trackedReader
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
		if t.parent != nil && t.parent.err == nil {
			t.parent.err = err
		}
	}
	return n, err
}

// copyEntry copies src to dst and returns only destination errors.
func copyEntry(dst io.Writer, src *trackedReader) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil && src.err != nil && errors.Is(err, src.err) {
		return n, nil
	}
	return n, err
}

func writeZeros(w io.Writer, n int64) error {
	var buf [32 * 1024]byte
	for n > 0 {
		chunk := int64(len(buf))
		if n < chunk {
			chunk = n
		}
		if _, err := w.Write(buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

type packStats struct {
	dirs    int
	files   int
	skipped int
	bytes   int64
}

// archive packs dir into a temporary archive and returns it opened for
// reading. Every failure path removes the temporary files before returning.
func (g *Gateway) archive(ctx context.Context, dir ResolvedPath, format ArchiveFormat) (stream *ArchiveStream, err error) {
	const op = "archive"

	walkRoot, err := filepath.EvalSymlinks(dir.Abs())
	if err != nil {
		return nil, classify(op, dir.String(), err)
	}
	info, err := os.Stat(walkRoot)
	if err != nil {
		return nil, classify(op, dir.String(), err)
	}
	if !info.IsDir() {
		return nil, newError(KindInvalidPath, op, dir.String(), errors.New("not a directory"))
	}

	job, err := newArchiveJob(g.TempDir(), format, g.logger, g.metrics)
	if err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}
	defer func() {
		if err != nil {
			if cerr := job.cleanup(); cerr != nil {
				g.logger.Error("Archive cleanup failed", zap.Error(cerr))
			}
		}
	}()

	f, err := job.create()
	if err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}
	aw, err := newArchiveWriter(f, format)
	if err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}

	job.setState(jobWalking)
	rootName := dir.Base()
	stats, err := g.pack(ctx, walkRoot, rootName, aw)
	if err != nil {
		aw.Close()
		return nil, classify(op, dir.String(), err)
	}
	if err := aw.Close(); err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}
	job.setState(jobFinalized)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}
	finfo, err := f.Stat()
	if err != nil {
		return nil, newError(KindIOError, op, dir.String(), err)
	}

	g.metrics.ArchiveBytes(string(format), finfo.Size())
	g.logger.Info("Archive created",
		zap.String("path", dir.String()),
		zap.String("format", string(format)),
		zap.Int("files", stats.files),
		zap.Int("dirs", stats.dirs),
		zap.Int("skipped", stats.skipped),
		zap.Int64("source_bytes", stats.bytes),
		zap.Int64("archive_bytes", finfo.Size()))

	job.setState(jobStreaming)
	return &ArchiveStream{
		Name:        rootName + format.Extension(),
		Format:      format,
		Size:        finfo.Size(),
		ContentType: format.ContentType(),
		Files:       stats.files,
		Skipped:     stats.skipped,
		file:        f,
		job:         job,
	}, nil
}

// pack walks root depth-first and adds every eligible entry under rootName.
// Entries that cannot be read are skipped; a failed write aborts the walk.
func (g *Gateway) pack(ctx context.Context, root, rootName string, aw archiveWriter) (packStats, error) {
	var stats packStats
	w := NewWalker(root)
	for w.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ev := w.Event()
		switch ev.Kind {
		case DirEnter:
			if ev.Rel == "" {
				continue
			}
			if reason := g.dirSkipReason(ev.Rel); reason != "" {
				w.SkipDir()
				g.skipEntry(&stats, ev.Rel, reason, nil)
				continue
			}
			if err := aw.AddDir(rootName+"/"+ev.Rel, ev.Info); err != nil {
				return stats, fmt.Errorf("write directory entry %s: %w", ev.Rel, err)
			}
			stats.dirs++
			g.metrics.ArchiveEntry(entryAdded)

		case FileEntry:
			if ev.Err != nil {
				g.skipEntry(&stats, ev.Rel, "stat failed", ev.Err)
				continue
			}
			if reason := g.fileSkipReason(ev); reason != "" {
				g.skipEntry(&stats, ev.Rel, reason, nil)
				continue
			}
			src, err := os.Open(ev.Path)
			if err != nil {
				g.skipEntry(&stats, ev.Rel, "unreadable", err)
				continue
			}
			tr := &trackedReader{r: src}
			n, err := aw.AddFile(rootName+"/"+ev.Rel, ev.Info, tr)
			src.Close()
			if err != nil {
				return stats, fmt.Errorf("write file entry %s: %w", ev.Rel, err)
			}
			if tr.err != nil {
				g.logger.Warn("Archive entry truncated by read error",
					zap.String("path", ev.Rel),
					zap.Error(tr.err))
				g.metrics.ArchiveEntry(entryReadError)
			} else {
				g.metrics.ArchiveEntry(entryAdded)
			}
			stats.files++
			stats.bytes += n

		case DirLeave:
			if ev.Err != nil {
				g.logger.Warn("Failed to read directory for archive",
					zap.String("path", ev.Rel),
					zap.Error(ev.Err))
			}
		}
	}
	return stats, w.Err()
}

func (g *Gateway) dirSkipReason(rel string) string {
	if !safeArchiveName.MatchString(rel) {
		return "unsafe name"
	}
	if g.excluded(rel) {
		return "excluded"
	}
	return ""
}

func (g *Gateway) fileSkipReason(ev WalkEvent) string {
	mode := ev.Info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case strings.HasPrefix(path.Base(ev.Rel), "."):
		return "hidden"
	case !mode.IsRegular():
		return "not a regular file"
	case !safeArchiveName.MatchString(ev.Rel):
		return "unsafe name"
	case g.excluded(ev.Rel):
		return "excluded"
	}
	return ""
}

func (g *Gateway) excluded(rel string) bool {
	for _, pattern := range g.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (g *Gateway) skipEntry(stats *packStats, rel, reason string, err error) {
	stats.skipped++
	g.metrics.ArchiveEntry(entrySkipped)
	if err == nil {
		g.logger.Debug("Archive entry skipped",
			zap.String("path", rel),
			zap.String("reason", reason))
		return
	}
	g.logger.Warn("Archive entry skipped",
		zap.String("path", rel),
		zap.String("reason", reason),
		zap.Error(err))
}
