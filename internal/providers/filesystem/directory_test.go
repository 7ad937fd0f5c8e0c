package filesystem

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDirectoryOrdering(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "b.txt", "b")
	env.writeFile(t, "a.txt", "a")
	env.writeFile(t, "A.txt", "A")
	env.writeFile(t, "big.bin", strings.Repeat("x", 1536))
	env.mkdir(t, "zdir")
	env.mkdir(t, "Adir")

	entries, err := env.gw.ListDirectory(context.Background(), "")
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Adir", "zdir", "A.txt", "a.txt", "b.txt", "big.bin"}, names)

	assert.True(t, entries[0].IsDirectory)
	assert.Equal(t, "0", entries[0].Size)
	assert.Equal(t, "1.0B", entries[2].Size)
	assert.Equal(t, "1.5KB", entries[5].Size)
	assert.NotZero(t, entries[5].ModifiedTime)
}

func TestListDirectoryEmpty(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.mkdir(t, "empty")

	entries, err := env.gw.ListDirectory(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListDirectoryErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "file.txt", "x")

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "missing", input: "nope", wantErr: ErrNotFound},
		{name: "not a directory", input: "file.txt", wantErr: ErrInvalidPath},
		{name: "traversal", input: "../", wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.gw.ListDirectory(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListDirectoryDoesNotFollowSymlinks(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.mkdir(t, "target")
	require.NoError(t, os.Symlink("target", env.path("link")))

	entries, err := env.gw.ListDirectory(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "target", entries[0].Name)
	assert.True(t, entries[0].IsDirectory)
	assert.Equal(t, "link", entries[1].Name)
	assert.False(t, entries[1].IsDirectory)
}

type walkStep struct {
	kind EventKind
	rel  string
}

func collectWalk(w *Walker) []walkStep {
	var steps []walkStep
	for w.Next() {
		ev := w.Event()
		steps = append(steps, walkStep{ev.Kind, ev.Rel})
	}
	return steps
}

func TestWalkerOrder(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "a/x.txt", "x")
	env.writeFile(t, "b.txt", "b")
	env.mkdir(t, "c")

	w := NewWalker(env.root)
	steps := collectWalk(w)
	require.NoError(t, w.Err())

	assert.Equal(t, []walkStep{
		{DirEnter, ""},
		{DirEnter, "a"},
		{FileEntry, "a/x.txt"},
		{DirLeave, "a"},
		{FileEntry, "b.txt"},
		{DirEnter, "c"},
		{DirLeave, "c"},
		{DirLeave, ""},
	}, steps)
	assert.False(t, w.Next(), "exhausted walker stays exhausted")
}

func TestWalkerSkipDir(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "skip/deep/x.txt", "x")
	env.writeFile(t, "keep.txt", "k")

	w := NewWalker(env.root)
	var steps []walkStep
	for w.Next() {
		ev := w.Event()
		if ev.Kind == DirEnter && ev.Rel == "skip" {
			w.SkipDir()
			continue
		}
		steps = append(steps, walkStep{ev.Kind, ev.Rel})
	}

	assert.Equal(t, []walkStep{
		{DirEnter, ""},
		{FileEntry, "keep.txt"},
		{DirLeave, ""},
	}, steps)
}

func TestWalkerReset(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile(t, "a/b.txt", "b")

	w := NewWalker(env.root)
	first := collectWalk(w)
	w.Reset()
	second := collectWalk(w)

	assert.Equal(t, first, second)
	assert.Len(t, first, 5)
}

func TestWalkerMissingRoot(t *testing.T) {
	w := NewWalker(t.TempDir() + "/missing")
	assert.False(t, w.Next())
	assert.ErrorIs(t, w.Err(), os.ErrNotExist)
}

func TestWalkerUnreadableDirectory(t *testing.T) {
	skipIfRoot(t)
	env := newTestEnv(t, Options{})
	env.writeFile(t, "locked/x.txt", "x")
	require.NoError(t, os.Chmod(env.path("locked"), 0o000))
	t.Cleanup(func() { os.Chmod(env.path("locked"), 0o755) })

	w := NewWalker(env.root)
	var leaveErr error
	for w.Next() {
		ev := w.Event()
		if ev.Kind == DirLeave && ev.Rel == "locked" {
			leaveErr = ev.Err
		}
		assert.NotEqual(t, "locked/x.txt", ev.Rel)
	}
	assert.Error(t, leaveErr)
}
