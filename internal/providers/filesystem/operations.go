package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// createDirectory creates dir and any missing parents.
func (g *Gateway) createDirectory(dir ResolvedPath) error {
	const op = "mkdir"
	if _, err := os.Lstat(dir.Abs()); err == nil {
		return newError(KindConflict, op, dir.String(), fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return classify(op, dir.String(), err)
	}
	if err := os.MkdirAll(dir.Abs(), 0o755); err != nil {
		return classify(op, dir.String(), err)
	}
	return nil
}

// deleteEntry removes a file, a symlink, or a directory tree. Directory
// removal is best effort: entries that cannot be removed are logged and
// reported, and removal of their siblings continues.
func (g *Gateway) deleteEntry(ctx context.Context, target ResolvedPath) (*DeleteResult, error) {
	const op = "delete"
	if target.IsRoot() {
		return nil, newError(KindForbidden, op, target.String(), errors.New("cannot delete root"))
	}

	info, err := os.Lstat(target.Abs())
	if err != nil {
		return nil, classify(op, target.String(), err)
	}

	result := &DeleteResult{Path: target.String()}
	if !info.IsDir() {
		if err := os.Remove(target.Abs()); err != nil {
			return nil, classify(op, target.String(), err)
		}
		result.Removed = 1
		return result, nil
	}

	removed, skipped, err := removeTree(ctx, target.Abs(), g.logger)
	if err != nil {
		return nil, classify(op, target.String(), err)
	}
	result.Removed = removed
	for _, p := range skipped {
		result.Skipped = append(result.Skipped, g.resolver.child(p).String())
	}
	return result, nil
}

// removeTree deletes root and everything beneath it, children before
// parents. Paths that cannot be removed are returned in skipped. Only context
// cancellation stops the removal early.
func removeTree(ctx context.Context, root string, logger *zap.Logger) (removed int, skipped []string, err error) {
	paths, err := collectTree(ctx, root)
	if err != nil {
		return 0, nil, err
	}

	// Every descendant of p sorts after p, so reverse order removes leaves first.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return removed, skipped, err
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logger.Warn("Failed to remove entry",
				zap.String("path", p),
				zap.Error(err))
			skipped = append(skipped, p)
			continue
		}
		removed++
	}
	return removed, skipped, nil
}

// collectTree lists root and all of its descendants without following
// symlinks. Unreadable directories contribute no children; their own removal
// fails later and is reported then.
func collectTree(ctx context.Context, root string) ([]string, error) {
	var mu sync.Mutex
	paths := []string{root}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || p == root {
			return nil
		}

		mu.Lock()
		paths = append(paths, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// renameEntry moves src to dst without ever replacing an existing entry.
func (g *Gateway) renameEntry(src, dst ResolvedPath) error {
	const op = "rename"
	if src.IsRoot() {
		return newError(KindForbidden, op, src.String(), errors.New("cannot rename root"))
	}

	parent := filepath.Dir(dst.Abs())
	pinfo, err := os.Stat(parent)
	if err != nil {
		return classify(op, dst.String(), err)
	}
	if !pinfo.IsDir() {
		return newError(KindInvalidPath, op, dst.String(), errors.New("destination parent is not a directory"))
	}
	if !canWrite(parent) {
		return newError(KindPermissionDenied, op, dst.String(), fs.ErrPermission)
	}

	if _, err := os.Lstat(dst.Abs()); err == nil {
		return newError(KindConflict, op, dst.String(), fs.ErrExist)
	}

	sinfo, err := os.Lstat(src.Abs())
	if err != nil {
		return classify(op, src.String(), err)
	}
	if sinfo.IsDir() && hasPathPrefix(dst.Abs(), src.Abs(), g.resolver.foldCase) {
		return newError(KindInvalidPath, op, dst.String(), errors.New("cannot move a directory into itself"))
	}

	if err := renameNoReplace(src.Abs(), dst.Abs()); err != nil {
		return classify(op, src.String(), err)
	}
	return nil
}
