// Package reader streams the contents of protected memory through short-lived accesses.
package reader

import "io"

// Accessor provides temporary access to protected bytes.
type Accessor interface {
	WithBytes(action func([]byte) error) error
}

// Reader reads from an Accessor, gaining access once per call to Read.
type Reader struct {
	src Accessor
	off int
}

// New returns a Reader reading from src.
func New(src Accessor) *Reader {
	return &Reader{src: src}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	err = r.src.WithBytes(func(b []byte) error {
		if r.off >= len(b) {
			return io.EOF
		}

		n = copy(p, b[r.off:])
		r.off += n

		if r.off >= len(b) {
			return io.EOF
		}

		return nil
	})

	return
}
