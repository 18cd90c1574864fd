// Package keystore defines the storage used for the key material guarding secure regions. Keys are kept in
// locked memory pages that are inaccessible except for the duration of a WithBytes call.
package keystore

import (
	"github.com/rcrowley/go-metrics"
)

var (
	// AllocCounter is used to track cumulative key allocations.
	//
	// AllocCounter increases as keys are allocated, but unlike InUseCounter, it does not decrease as keys are
	// released.
	AllocCounter = metrics.GetOrRegisterCounter("keystore.allocated", nil)

	// InUseCounter is used to track the number of keys currently in use.
	InUseCounter = metrics.GetOrRegisterCounter("keystore.inuse", nil)
)

// Error is a sentinel error returned by Secret implementations.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrSecretClosed is returned when accessing a secret that has already been closed.
	ErrSecretClosed Error = "secret has already been destroyed"
	// ErrInvalidSize is returned when creating a secret of less than one byte.
	ErrInvalidSize Error = "invalid secret length"
)

// Secret holds key material in protected memory. Always call Close after use to avoid memory leaks.
type Secret interface {
	// WithBytes makes the underlying bytes readable and passes them to the function action. It returns the
	// error returned by action, combined with any error restoring the protection afterwards.
	//
	// A reference MUST not be kept to the bytes passed to the function as the underlying array will no
	// longer be readable after the function exits.
	WithBytes(action func([]byte) error) error

	// IsClosed returns true if the secret has already been closed.
	IsClosed() bool

	// Close wipes the secret and frees its memory. Close waits for any running WithBytes call to return.
	Close() error
}

// Factory creates Secret implementations.
type Factory interface {
	// New returns a Secret containing a copy of b. The bytes of b are wiped before New returns.
	New(b []byte) (Secret, error)

	// CreateRandom returns a Secret holding size random bytes.
	CreateRandom(size int) (Secret, error)
}
