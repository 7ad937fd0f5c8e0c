package filesystem

import (
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

	"go.uber.org/zap"
)

// UploadItem is one file of an upload batch. Name is the client-supplied
// relative path and may contain directories.
type UploadItem struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// ReaderItem builds an UploadItem backed by r.
func ReaderItem(name string, r io.Reader) UploadItem {
	return UploadItem{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

var unsafeNameChars = regexp.MustCompile(`[<>:"|?*]`)

type plannedUpload struct {
	item UploadItem
	abs  string
}

// ingest writes items beneath target, optionally inside a new folderName
// directory. Every name is validated before the first write; items are then
// written in order and earlier items stay on disk if a later one fails.
func (g *Gateway) ingest(ctx context.Context, target ResolvedPath, folderName string, items []UploadItem) (*UploadResult, error) {
	const op = "upload"

	info, err := os.Stat(target.Abs())
	if err != nil {
		return nil, classify(op, target.String(), err)
	}
	if !info.IsDir() {
		return nil, newError(KindInvalidPath, op, target.String(), errors.New("target is not a directory"))
	}

	base := target.Abs()
	if folderName != "" {
		folder, err := sanitizeSegment(folderName)
		if err != nil {
			return nil, withOp(err, op, folderName)
		}
		base = filepath.Join(base, folder)
		if _, err := os.Lstat(base); err == nil {
			return nil, newError(KindConflict, op, path.Join(target.String(), folder), fs.ErrExist)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, classify(op, target.String(), err)
		}
	}

	plans := make([]plannedUpload, 0, len(items))
	for _, item := range items {
		rel, err := sanitizeUploadName(item.Name)
		if err != nil {
			return nil, withOp(err, op, item.Name)
		}
		plans = append(plans, plannedUpload{item: item, abs: filepath.Join(base, filepath.FromSlash(rel))})
	}

	if folderName != "" {
		if err := os.Mkdir(base, 0o755); err != nil {
			return nil, classify(op, target.String(), err)
		}
	}

	result := &UploadResult{Files: make([]string, 0, len(plans))}
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindIOError, op, target.String(), err)
		}
		n, err := g.writeUpload(plan)
		if err != nil {
			return nil, err
		}
		written := g.resolver.child(plan.abs).String()
		g.logger.Debug("Upload item written",
			zap.String("path", written),
			zap.Int64("bytes", n))
		result.Files = append(result.Files, written)
		result.Bytes += n
	}
	return result, nil
}

// writeUpload streams one item to a temp file next to its destination and
// renames it into place. An existing file or symlink at the destination is
// replaced, never written through.
func (g *Gateway) writeUpload(plan plannedUpload) (int64, error) {
	const op = "upload"
	dest := plan.abs
	rel := g.resolver.child(dest).String()
	parent := filepath.Dir(dest)

	if !g.resolver.Within(parent) {
		return 0, newError(KindForbidden, op, rel, errors.New("parent escapes root"))
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, classify(op, rel, err)
	}
	if !g.resolver.Within(parent) {
		return 0, newError(KindForbidden, op, rel, errors.New("parent escapes root"))
	}

	if info, err := os.Lstat(dest); err == nil && info.IsDir() {
		return 0, newError(KindConflict, op, rel, errors.New("a directory exists at destination"))
	}

	src, err := plan.item.Open()
	if err != nil {
		return 0, newError(KindIOError, op, rel, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(parent, ".upload-*")
	if err != nil {
		return 0, classify(op, rel, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, newError(KindIOError, op, rel, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, classify(op, rel, err)
	}
	return n, nil
}

// sanitizeUploadName turns a client file name into a clean relative path.
func sanitizeUploadName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", newError(KindInvalidPath, "", "", errors.New("empty file name"))
	}
	if strings.ContainsRune(name, 0) {
		return "", newError(KindInvalidPath, "", "", errors.New("file name contains NUL"))
	}

	s := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(s, "/") || filepath.VolumeName(filepath.FromSlash(s)) != "" {
		return "", newError(KindForbidden, "", "", errors.New("absolute file name"))
	}
	cleaned := path.Clean(s)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || hasTraversal(cleaned) {
		return "", newError(KindForbidden, "", "", errors.New("file name escapes target"))
	}
	return unsafeNameChars.ReplaceAllString(cleaned, "_"), nil
}

// sanitizeSegment validates a single path element such as a folder name.
func sanitizeSegment(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsRune(name, 0) || strings.ContainsAny(name, `/\`) {
		return "", newError(KindInvalidPath, "", "", fmt.Errorf("invalid folder name %q", name))
	}
	if name == "." || hasTraversal(name) {
		return "", newError(KindForbidden, "", "", fmt.Errorf("invalid folder name %q", name))
	}
	return unsafeNameChars.ReplaceAllString(name, "_"), nil
}

// withOp fills in the operation and path of a validation error.
func withOp(err error, op, p string) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		e.Op, e.Path = op, p
	}
	return err
}

// openDownload opens a regular file for streaming.
func (g *Gateway) openDownload(file ResolvedPath) (*FileDownload, error) {
	const op = "download"

	info, err := os.Stat(file.Abs())
	if err != nil {
		return nil, classify(op, file.String(), err)
	}
	if info.IsDir() {
		return nil, newError(KindIsADirectory, op, file.String(), errors.New("is a directory"))
	}
	if !info.Mode().IsRegular() {
		return nil, newError(KindInvalidPath, op, file.String(), errors.New("not a regular file"))
	}

	f, err := os.Open(file.Abs())
	if err != nil {
		return nil, classify(op, file.String(), err)
	}
	return &FileDownload{
		Name:        file.Base(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: detectContentType(file.Abs()),
		Content:     f,
	}, nil
}
