package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// maxDecodeRounds bounds repeated percent-decoding of caller input.
const maxDecodeRounds = 4

// Resolver confines caller-supplied paths to a single root directory.
type Resolver struct {
	root     string
	foldCase bool
}

// ResolvedPath is an absolute path proven to be inside the resolver's root.
// Only Resolver produces values of this type.
type ResolvedPath struct {
	abs string
	rel string
}

// Abs returns the absolute filesystem path.
func (p ResolvedPath) Abs() string { return p.abs }

// Rel returns the slash-separated path relative to the root ("" for the root).
func (p ResolvedPath) Rel() string { return p.rel }

// Base returns the last element of the path.
func (p ResolvedPath) Base() string { return filepath.Base(p.abs) }

// IsRoot reports whether the path is the root itself.
func (p ResolvedPath) IsRoot() bool { return p.rel == "" }

func (p ResolvedPath) String() string { return "/" + p.rel }

// NewResolver canonicalises root and fails if it is not an existing directory.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs root %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", abs, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", canonical)
	}
	return &Resolver{
		root:     canonical,
		foldCase: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
	}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve validates input and returns the matching path inside the root.
//
// The entry itself is never dereferenced: a symlink resolves to the link, but
// the link's target must also lie inside the root. Intermediate directories
// are canonicalised before the boundary check.
func (r *Resolver) Resolve(input string, mustExist, mustBeReadable bool) (ResolvedPath, error) {
	const op = "resolve"

	rel, err := cleanInput(input)
	if err != nil {
		return ResolvedPath{}, withOp(err, op, input)
	}
	if rel == "" {
		if mustBeReadable && !canRead(r.root) {
			return ResolvedPath{}, newError(KindPermissionDenied, op, input, fs.ErrPermission)
		}
		return ResolvedPath{abs: r.root}, nil
	}

	lexical := filepath.Join(r.root, filepath.FromSlash(rel))
	parent, err := canonicalize(filepath.Dir(lexical))
	if err != nil {
		return ResolvedPath{}, classify(op, input, err)
	}
	abs := filepath.Join(parent, filepath.Base(lexical))
	if !r.contains(abs) {
		return ResolvedPath{}, newError(KindForbidden, op, input, errors.New("path escapes root"))
	}

	info, err := os.Lstat(abs)
	exists := err == nil
	if err != nil && !isNotExist(err) {
		return ResolvedPath{}, classify(op, input, err)
	}
	if exists && info.Mode()&fs.ModeSymlink != 0 {
		target, err := linkTarget(abs)
		if err != nil {
			return ResolvedPath{}, classify(op, input, err)
		}
		if !r.contains(target) {
			return ResolvedPath{}, newError(KindForbidden, op, input, errors.New("symlink target escapes root"))
		}
	}

	if mustExist && !exists {
		return ResolvedPath{}, newError(KindNotFound, op, input, fs.ErrNotExist)
	}
	if mustBeReadable && exists && !canRead(abs) {
		return ResolvedPath{}, newError(KindPermissionDenied, op, input, fs.ErrPermission)
	}
	return ResolvedPath{abs: abs, rel: r.relOf(abs)}, nil
}

// Within reports whether abs, after symlink canonicalisation of its existing
// prefix, lies inside the root.
func (r *Resolver) Within(abs string) bool {
	canonical, err := canonicalize(abs)
	if err != nil {
		return false
	}
	return r.contains(canonical)
}

// child builds a ResolvedPath for a descendant of an already resolved path.
// The caller guarantees abs lies inside the root.
func (r *Resolver) child(abs string) ResolvedPath {
	return ResolvedPath{abs: abs, rel: r.relOf(abs)}
}

func (r *Resolver) contains(abs string) bool {
	return hasPathPrefix(abs, r.root, r.foldCase)
}

func (r *Resolver) relOf(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// hasPathPrefix reports whether p equals base or lies beneath it.
func hasPathPrefix(p, base string, foldCase bool) bool {
	p, base = filepath.Clean(p), filepath.Clean(base)
	if foldCase {
		p, base = strings.ToLower(p), strings.ToLower(base)
	}
	if p == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// cleanInput rejects traversal in raw and decoded forms and returns a
// slash-separated relative path with no leading separator.
func cleanInput(input string) (string, error) {
	if strings.ContainsRune(input, 0) {
		return "", newError(KindInvalidPath, "", "", errors.New("path contains NUL"))
	}

	forms := []string{input}
	cur := input
	for i := 0; i < maxDecodeRounds && strings.Contains(cur, "%"); i++ {
		dec, err := url.PathUnescape(cur)
		if err != nil {
			return "", newError(KindInvalidPath, "", "", err)
		}
		if dec == cur {
			break
		}
		forms = append(forms, dec)
		cur = dec
	}
	for _, f := range forms {
		if strings.ContainsRune(f, 0) {
			return "", newError(KindInvalidPath, "", "", errors.New("path contains NUL"))
		}
		if hasTraversal(f) {
			return "", newError(KindForbidden, "", "", errors.New("path traversal"))
		}
	}

	decoded := forms[0]
	if len(forms) > 1 {
		decoded = forms[1]
	}
	s := strings.ReplaceAll(strings.TrimSpace(decoded), `\`, "/")
	if hasTraversal(s) {
		return "", newError(KindForbidden, "", "", errors.New("path traversal"))
	}
	if filepath.VolumeName(filepath.FromSlash(s)) != "" {
		return "", newError(KindInvalidPath, "", "", errors.New("volume names are not allowed"))
	}
	s = strings.TrimPrefix(path.Clean("/"+s), "/")
	return s, nil
}

// hasTraversal reports whether any segment of s is a parent reference. Runs of
// dots padded with whitespace count too.
func hasTraversal(s string) bool {
	segments := strings.FieldsFunc(s, func(c rune) bool { return c == '/' || c == '\\' })
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg)
		if len(trimmed) >= 2 && strings.Trim(trimmed, ".") == "" {
			return true
		}
	}
	return false
}

// canonicalize resolves symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func canonicalize(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := make([]string, 0, len(tail)+1)
			parts = append(parts, resolved)
			for i := len(tail) - 1; i >= 0; i-- {
				parts = append(parts, tail[i])
			}
			return filepath.Join(parts...), nil
		}
		if !isNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return filepath.Clean(p), nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// linkTarget returns where the symlink at p points. Dangling links are
// resolved lexically against the link's directory.
func linkTarget(p string) (string, error) {
	target, err := filepath.EvalSymlinks(p)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	dest, err := os.Readlink(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(p), dest)
	}
	return canonicalize(dest)
}
