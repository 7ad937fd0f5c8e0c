package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// listDirectory returns the immediate children of dir, directories first and
// then by case-insensitive name. Symlinks are described, not followed.
func listDirectory(dir ResolvedPath) ([]EntryDescriptor, error) {
	const op = "list"

	info, err := os.Stat(dir.Abs())
	if err != nil {
		return nil, classify(op, dir.String(), err)
	}
	if !info.IsDir() {
		return nil, newError(KindInvalidPath, op, dir.String(), errors.New("not a directory"))
	}

	dirents, err := os.ReadDir(dir.Abs())
	if err != nil {
		return nil, classify(op, dir.String(), err)
	}

	entries := make([]EntryDescriptor, 0, len(dirents))
	for _, de := range dirents {
		fi, err := de.Info()
		if err != nil {
			return nil, newError(KindIOError, op, path.Join(dir.String(), de.Name()), err)
		}
		entries = append(entries, describe(fi))
	}
	sortEntries(entries)
	return entries, nil
}

func describe(fi fs.FileInfo) EntryDescriptor {
	size := "0"
	if !fi.IsDir() {
		size = FormatSize(fi.Size())
	}
	return EntryDescriptor{
		Name:         fi.Name(),
		IsDirectory:  fi.IsDir(),
		Size:         size,
		ModifiedTime: fi.ModTime().UnixMilli(),
	}
}

func sortEntries(entries []EntryDescriptor) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
}

// EventKind identifies a Walker event.
type EventKind int

const (
	DirEnter EventKind = iota
	FileEntry
	DirLeave
)

func (k EventKind) String() string {
	switch k {
	case DirEnter:
		return "dir_enter"
	case FileEntry:
		return "file"
	case DirLeave:
		return "dir_leave"
	default:
		return "unknown"
	}
}

// WalkEvent is one step of a depth-first traversal.
type WalkEvent struct {
	Kind EventKind
	// Path is the absolute path of the entry.
	Path string
	// Rel is the slash-separated path relative to the walk root ("" for the root).
	Rel  string
	Info fs.FileInfo
	// Err is set on a FileEntry whose stat failed, or on a DirLeave whose
	// children could not be read.
	Err error
}

type walkFrame struct {
	path     string
	rel      string
	loaded   bool
	children []fs.DirEntry
	next     int
	readErr  error
	info     fs.FileInfo
}

// Walker is a lazy, single-threaded depth-first traversal. Children of a
// directory are read in name order only when the traversal descends into it,
// so SkipDir right after a DirEnter avoids reading the subtree at all.
// Symlinks are reported as files and never followed.
type Walker struct {
	root    string
	stack   []*walkFrame
	event   WalkEvent
	started bool
	done    bool
	err     error
}

// NewWalker creates a walker rooted at root.
func NewWalker(root string) *Walker {
	return &Walker{root: root}
}

// Next advances to the next event and reports whether one is available.
func (w *Walker) Next() bool {
	if w.done {
		return false
	}
	if !w.started {
		w.started = true
		info, err := os.Lstat(w.root)
		if err != nil {
			w.err = err
			w.done = true
			return false
		}
		if !info.IsDir() {
			w.event = WalkEvent{Kind: FileEntry, Path: w.root, Info: info}
			w.done = true
			return true
		}
		w.stack = append(w.stack, &walkFrame{path: w.root, info: info})
		w.event = WalkEvent{Kind: DirEnter, Path: w.root, Info: info}
		return true
	}

	if len(w.stack) == 0 {
		w.done = true
		return false
	}

	top := w.stack[len(w.stack)-1]
	if !top.loaded {
		top.loaded = true
		top.children, top.readErr = os.ReadDir(top.path)
	}

	if top.next < len(top.children) {
		de := top.children[top.next]
		top.next++
		p := filepath.Join(top.path, de.Name())
		rel := path.Join(top.rel, de.Name())
		info, err := de.Info()
		if err != nil {
			w.event = WalkEvent{Kind: FileEntry, Path: p, Rel: rel, Err: err}
			return true
		}
		if de.IsDir() {
			w.stack = append(w.stack, &walkFrame{path: p, rel: rel, info: info})
			w.event = WalkEvent{Kind: DirEnter, Path: p, Rel: rel, Info: info}
			return true
		}
		w.event = WalkEvent{Kind: FileEntry, Path: p, Rel: rel, Info: info}
		return true
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.event = WalkEvent{Kind: DirLeave, Path: top.path, Rel: top.rel, Info: top.info, Err: top.readErr}
	return true
}

// Event returns the current event.
func (w *Walker) Event() WalkEvent { return w.event }

// SkipDir drops the directory just entered. Its children and its DirLeave
// event are not produced. It has no effect after any other event.
func (w *Walker) SkipDir() {
	if w.event.Kind != DirEnter || len(w.stack) == 0 {
		return
	}
	top := w.stack[len(w.stack)-1]
	if top.path == w.event.Path && !top.loaded {
		w.stack = w.stack[:len(w.stack)-1]
	}
}

// Reset rewinds the walker so the next call to Next starts over.
func (w *Walker) Reset() {
	w.stack = nil
	w.event = WalkEvent{}
	w.started = false
	w.done = false
	w.err = nil
}

// Err returns the error that stopped the walk before any event, if any.
func (w *Walker) Err() error { return w.err }
