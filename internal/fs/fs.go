// Package fs provides the filesystem abstraction used by the answer cache.
//
// The main types are:
//   - [FS]: interface for the file operations the cache needs
//   - [Real]: production implementation using the [os] package and
//     atomic writes
//
// The interface exists so store and engine tests can inject failures
// without touching the real filesystem.
package fs

import "os"

// FS defines the filesystem operations used by the cache store and migrator.
//
// All methods mirror their [os] package equivalents except
// [FS.WriteFileAtomic], which replaces a file's contents with no observable
// partial-write state.
type FS interface {
	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic durably replaces the contents of path.
	//
	// It writes to a temporary sibling, syncs it, and renames it over path.
	// The parent directory is created if missing. If the atomic path fails,
	// implementations fall back to a direct write rather than dropping the
	// update; the fallback may leave a truncated file if interrupted.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error
}
