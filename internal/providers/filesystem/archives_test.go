package filesystem

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchiveTree creates photos/ with a mix of eligible and skipped entries.
func buildArchiveTree(t *testing.T, env *testEnv) {
	t.Helper()
	env.writeFile(t, "photos/a.txt", "alpha")
	env.writeFile(t, "photos/sub/b.txt", "beta")
	env.writeFile(t, "photos/.hidden", "secret")
	env.writeFile(t, "photos/bad name.txt", "space")
	env.writeFile(t, "photos/bad dir/c.txt", "c")
	env.writeFile(t, "photos/node_modules/x.js", "x")
	require.NoError(t, os.Symlink("a.txt", env.path("photos/link.txt")))
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		entries[f.Name] = string(body)
	}
	return entries
}

func readTar(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	tr := tar.NewReader(r)
	entries := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(body)
	}
	return entries
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var wantArchiveEntries = []string{
	"photos/a.txt",
	"photos/sub/",
	"photos/sub/b.txt",
}

func TestDownloadDirectoryArchiveZip(t *testing.T) {
	env := newTestEnv(t, Options{Exclude: []string{"**/node_modules"}})
	buildArchiveTree(t, env)

	stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "photos", "")
	require.NoError(t, err)

	assert.Equal(t, "photos.zip", stream.Name)
	assert.Equal(t, FormatZip, stream.Format)
	assert.Equal(t, "application/zip", stream.ContentType)
	assert.Equal(t, 2, stream.Files)
	assert.Equal(t, 5, stream.Skipped)

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, stream.Size, int64(len(data)))
	require.NoError(t, stream.Close())

	entries := readZip(t, data)
	assert.Equal(t, wantArchiveEntries, keys(entries))
	assert.Equal(t, "alpha", entries["photos/a.txt"])
	assert.Equal(t, "beta", entries["photos/sub/b.txt"])
	assert.Equal(t, 0, env.metrics.active)
}

func TestDownloadDirectoryArchiveTar(t *testing.T) {
	tests := []struct {
		format      ArchiveFormat
		name        string
		contentType string
		open        func(t *testing.T, data []byte) io.Reader
	}{
		{
			format:      FormatTarGzip,
			name:        "photos.tar.gz",
			contentType: "application/gzip",
			open: func(t *testing.T, data []byte) io.Reader {
				zr, err := gzip.NewReader(bytes.NewReader(data))
				require.NoError(t, err)
				return zr
			},
		},
		{
			format:      FormatTarZstd,
			name:        "photos.tar.zst",
			contentType: "application/zstd",
			open: func(t *testing.T, data []byte) io.Reader {
				zr, err := zstd.NewReader(bytes.NewReader(data))
				require.NoError(t, err)
				t.Cleanup(zr.Close)
				return zr
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			env := newTestEnv(t, Options{Exclude: []string{"**/node_modules"}})
			buildArchiveTree(t, env)

			stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "photos", tt.format)
			require.NoError(t, err)
			defer stream.Close()

			assert.Equal(t, tt.name, stream.Name)
			assert.Equal(t, tt.contentType, stream.ContentType)

			data, err := io.ReadAll(stream)
			require.NoError(t, err)

			entries := readTar(t, tt.open(t, data))
			assert.Equal(t, wantArchiveEntries, keys(entries))
			assert.Equal(t, "alpha", entries["photos/a.txt"])
		})
	}
}

func TestDownloadDirectoryArchiveDefaultFormat(t *testing.T) {
	env := newTestEnv(t, Options{Format: FormatTarGzip})
	env.writeFile(t, "docs/a.txt", "a")

	stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "docs", "")
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "docs.tar.gz", stream.Name)
}

func TestDownloadDirectoryArchiveTempLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "docs/a.txt", "a")

	stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "docs", FormatZip)
	require.NoError(t, err)

	jobs, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, strings.HasPrefix(jobs[0].Name(), "zip_temp_"))

	files, err := os.ReadDir(filepath.Join(env.tempDir, jobs[0].Name()))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "directory_"))
	assert.True(t, strings.HasSuffix(files[0].Name(), ".zip"))
	assert.Equal(t, 1, env.metrics.active)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "close is idempotent")

	jobs, err = os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 0, env.metrics.active)
}

func TestDownloadDirectoryArchiveCleansUpOnCancel(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "docs/a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.gw.DownloadDirectoryArchive(ctx, "docs", FormatZip)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	jobs, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 0, env.metrics.active)
}

func TestDownloadDirectoryArchiveSkipsUnreadable(t *testing.T) {
	skipIfRoot(t)
	env := newTestEnv(t, Options{})
	env.writeFile(t, "docs/ok.txt", "ok")
	env.writeFile(t, "docs/locked.txt", "no")
	require.NoError(t, os.Chmod(env.path("docs/locked.txt"), 0o000))

	stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "docs", FormatZip)
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/ok.txt"}, keys(readZip(t, data)))
	assert.Equal(t, 1, stream.Skipped)
}

func TestDownloadDirectoryArchiveEmptyDirectory(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.mkdir(t, "empty")

	stream, err := env.gw.DownloadDirectoryArchive(context.Background(), "empty", FormatZip)
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Empty(t, readZip(t, data))
}

func TestDownloadDirectoryArchiveErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "file.txt", "x")

	tests := []struct {
		name    string
		input   string
		format  ArchiveFormat
		wantErr error
	}{
		{name: "file", input: "file.txt", wantErr: ErrInvalidPath},
		{name: "missing", input: "nope", wantErr: ErrNotFound},
		{name: "traversal", input: "../..", wantErr: ErrForbidden},
		{name: "unknown format", input: "", format: "rar", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.gw.DownloadDirectoryArchive(context.Background(), tt.input, tt.format)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	jobs, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestTarWriterPadsShrunkFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))
	info, err := os.Stat(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := newTarWriter(nopWriteCloser{&buf})
	n, err := tw.AddFile("f.txt", info, &trackedReader{r: strings.NewReader("0123")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, tw.Close())

	entries := readTar(t, &buf)
	assert.Equal(t, "0123\x00\x00\x00\x00\x00\x00", entries["f.txt"])
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestParseArchiveFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    ArchiveFormat
		wantErr bool
	}{
		{"", FormatZip, false},
		{"ZIP", FormatZip, false},
		{"tar.gz", FormatTarGzip, false},
		{"tgz", FormatTarGzip, false},
		{"tar.zst", FormatTarZstd, false},
		{"7z", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseArchiveFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
