package fs

import "io"

// SetAtomicWrite overrides the atomic write primitive for tests.
// Returns a restore function.
func (r *Real) SetAtomicWrite(fn func(path string, reader io.Reader) error) func() {
	prev := r.atomicWrite
	r.atomicWrite = fn

	return func() { r.atomicWrite = prev }
}
