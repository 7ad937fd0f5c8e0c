package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
	"time"
)

// Kind classifies gateway failures. Transports map kinds to status codes.
type Kind int

const (
	KindIOError Kind = iota
	KindInvalidPath
	KindForbidden
	KindNotFound
	KindConflict
	KindPermissionDenied
	KindIsADirectory
)

var kindNames = map[Kind]string{
	KindIOError:          "io_error",
	KindInvalidPath:      "invalid_path",
	KindForbidden:        "forbidden",
	KindNotFound:         "not_found",
	KindConflict:         "conflict",
	KindPermissionDenied: "permission_denied",
	KindIsADirectory:     "is_a_directory",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every gateway operation.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrNotFound) holds for
// any *Error of KindNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidPath      = &Error{Kind: KindInvalidPath}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrIOError          = &Error{Kind: KindIOError}
	ErrIsADirectory     = &Error{Kind: KindIsADirectory}
)

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf extracts the failure kind of err. Errors that did not originate in
// this package are reported as KindIOError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOError
}

// classify wraps an OS error into the gateway taxonomy.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case isNotExist(err):
		return newError(KindNotFound, op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return newError(KindPermissionDenied, op, path, err)
	case errors.Is(err, fs.ErrExist):
		return newError(KindConflict, op, path, err)
	default:
		return newError(KindIOError, op, path, err)
	}
}

// EntryDescriptor is a point-in-time snapshot of one directory entry.
type EntryDescriptor struct {
	Name         string `json:"name"`
	IsDirectory  bool   `json:"isDirectory"`
	Size         string `json:"size"`
	ModifiedTime int64  `json:"modifiedTime"`
}

// DeleteResult reports a best-effort delete.
type DeleteResult struct {
	Path    string   `json:"path"`
	Removed int      `json:"removed"`
	Skipped []string `json:"skipped,omitempty"`
}

// UploadResult reports the files written by an upload.
type UploadResult struct {
	Files []string `json:"files"`
	Bytes int64    `json:"bytes"`
}

// FileDownload is an open file ready to be served. Callers must Close Content.
type FileDownload struct {
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
	Content     io.ReadSeekCloser
}

// isNotExist also treats ENOTDIR as absence: a path through a regular file
// names nothing.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
