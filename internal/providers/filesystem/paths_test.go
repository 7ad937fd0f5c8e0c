package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestNewResolver(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewResolver("")
	assert.Error(t, err)

	_, err = NewResolver(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = NewResolver(file)
	assert.Error(t, err)

	r, err := NewResolver(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.Root()))
}

func TestNewResolverCanonicalisesSymlinkedRoot(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	r, err := NewResolver(link)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, want, r.Root())
}

func TestResolveRejectsTraversal(t *testing.T) {
	r := newTestResolver(t)

	inputs := []string{
		"..",
		"../etc/passwd",
		"docs/../../etc",
		`..\..\windows\system32`,
		`docs\..\..\x`,
		"%2e%2e/etc",
		"%2e%2e%2fetc",
		"%2E%2E%5Cetc",
		"%252e%252e/etc",
		"%25252e%25252e%25252fetc",
		"docs/%2e%2e/%2e%2e/x",
		".. /x",
		"docs/....",
		" ../x",
		"\t../x",
		"%20../x",
		` ..\x`,
		"docs/ ../x",
		"%09%2e%2e/x",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := r.Resolve(input, false, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestResolveInvalidInput(t *testing.T) {
	r := newTestResolver(t)

	inputs := []string{
		"a\x00b",
		"a%00b",
		"%zz",
		"docs/%",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := r.Resolve(input, false, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestResolveNormalisesInput(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "docs", "sub"), 0o755))

	tests := []struct {
		input string
		rel   string
	}{
		{"", ""},
		{"/", ""},
		{".", ""},
		{"./", ""},
		{"docs", "docs"},
		{"/docs/", "docs"},
		{"//docs//sub", "docs/sub"},
		{`docs\sub`, "docs/sub"},
		{"docs/./sub", "docs/sub"},
		{"docs%2Fsub", "docs/sub"},
		{"new/file.txt", "new/file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := r.Resolve(tt.input, false, false)
			require.NoError(t, err)
			assert.Equal(t, tt.rel, p.Rel())
			assert.Equal(t, tt.rel == "", p.IsRoot())
			assert.True(t, hasPathPrefix(p.Abs(), r.Root(), false))
		})
	}
}

func TestResolveExistence(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("a"), 0o644))

	p, err := r.Resolve("a.txt", true, true)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", p.Base())
	assert.Equal(t, filepath.Join(r.Root(), "a.txt"), p.Abs())

	_, err = r.Resolve("missing.txt", true, false)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = r.Resolve("missing/deeper.txt", false, false)
	require.NoError(t, err)
	assert.Equal(t, "missing/deeper.txt", p.Rel())

	_, err = r.Resolve("a.txt/child", true, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveUnreadable(t *testing.T) {
	skipIfRoot(t)
	r := newTestResolver(t)
	p := filepath.Join(r.Root(), "secret.txt")
	require.NoError(t, os.WriteFile(p, []byte("s"), 0o000))

	_, err := r.Resolve("secret.txt", true, true)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = r.Resolve("secret.txt", true, false)
	assert.NoError(t, err)
}

func TestResolveSymlinks(t *testing.T) {
	r := newTestResolver(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "passwd"), []byte("root"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(r.Root(), "inside"), 0o755))

	require.NoError(t, os.Symlink(outside, filepath.Join(r.Root(), "escape")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "passwd"), filepath.Join(r.Root(), "passwd")))
	require.NoError(t, os.Symlink("inside", filepath.Join(r.Root(), "alias")))
	require.NoError(t, os.Symlink("../../nowhere", filepath.Join(r.Root(), "dangling")))

	tests := []struct {
		input   string
		wantErr error
	}{
		{"escape", ErrForbidden},
		{"escape/passwd", ErrForbidden},
		{"escape/new.txt", ErrForbidden},
		{"passwd", ErrForbidden},
		{"dangling", ErrForbidden},
		{"alias", nil},
		{"alias/new.txt", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := r.Resolve(tt.input, false, false)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, hasPathPrefix(p.Abs(), r.Root(), false))
		})
	}

	alias, err := r.Resolve("alias", true, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root(), "alias"), alias.Abs(), "the link itself is returned")

	nested, err := r.Resolve("alias/new.txt", false, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root(), "inside", "new.txt"), nested.Abs(), "intermediate links are canonicalised")
}

func TestResolveNeverEscapesRoot(t *testing.T) {
	r := newTestResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "a", "b"), 0o755))

	inputs := []string{
		"a/b/../../..", "a/..%2f..", "..%5c..", "a/b/c/../../../../x",
		"%2e%2e", "%%32%65%%32%65", "a/%252e%252e/%252e%252e/x", "....//....//x",
		"a/./../..", "C:/Windows", `C:\Windows`, "\\\\server\\share", "a..b", "..a",
		"~/x", "a/b/%2e/%2e%2e/%2e%2e/%2e%2e", "/../../../",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			p, err := r.Resolve(input, false, false)
			if err != nil {
				kind := KindOf(err)
				assert.Contains(t, []Kind{KindForbidden, KindInvalidPath}, kind)
				return
			}
			assert.True(t, hasPathPrefix(p.Abs(), r.Root(), false), "resolved %q to %q", input, p.Abs())
		})
	}
}

func TestHasPathPrefix(t *testing.T) {
	sep := string(filepath.Separator)
	base := sep + filepath.Join("srv", "files")

	assert.True(t, hasPathPrefix(base, base, false))
	assert.True(t, hasPathPrefix(base+sep+"a", base, false))
	assert.False(t, hasPathPrefix(base+"-evil", base, false))
	assert.False(t, hasPathPrefix(sep+"srv", base, false))
	assert.False(t, hasPathPrefix(sep+filepath.Join("SRV", "Files", "a"), base, false))
	assert.True(t, hasPathPrefix(sep+filepath.Join("SRV", "Files", "a"), base, true))
}
