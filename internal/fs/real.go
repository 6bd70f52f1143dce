package fs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

const dirPerms = 0o755

// Real implements [FS] using the real filesystem.
//
// Reads and metadata calls are pure passthroughs to the [os] package.
// [Real.WriteFileAtomic] uses temp-file-plus-rename writes and degrades to a
// direct write when the atomic path is unavailable.
type Real struct {
	// atomicWrite is swapped out in tests to force the fallback path.
	atomicWrite func(path string, r io.Reader) error
}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{atomicWrite: atomic.WriteFile}
}

// A passthrough wrapper for [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic writes data to path via a temp sibling, fsync, and rename.
//
// The parent directory is created first if missing. If the atomic write
// fails (rename unsupported, temp file creation failure), the data is
// written directly with [os.WriteFile] as a last resort. The direct path
// may leave a truncated file if interrupted; losing atomicity is preferred
// over losing the update.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dirPerms); err != nil {
			return os.WriteFile(path, data, perm)
		}
	}

	if err := r.atomicWrite(path, bytes.NewReader(data)); err != nil {
		return os.WriteFile(path, data, perm)
	}

	return nil
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
