package flexmem

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a sentinel error returned (usually wrapped) by the flexmem packages. Use errors.Is to test for a
// specific Error.
type Error string

func (e Error) Error() string {
	return string(e)
}

// Allocation errors.
const (
	// ErrOutOfMemory is returned when the allocation primitive could not satisfy a request.
	ErrOutOfMemory Error = "out of memory"
	// ErrCapacityOverflow is returned when a requested capacity exceeds what the configured index type or the
	// address space can represent.
	ErrCapacityOverflow Error = "capacity overflow"
	// ErrUnsupported is returned when an allocator cannot provide the requested kind of memory.
	ErrUnsupported Error = "unsupported by allocator"
)

// Protection errors.
const (
	ErrLockFailed      Error = "unable to lock memory"
	ErrProtectFailed   Error = "unable to mark memory as no-access"
	ErrUnprotectFailed Error = "unable to mark memory as read-write"
)

// Access errors.
const (
	// ErrAlreadyAccessed is returned when a region already has a live access scope.
	ErrAlreadyAccessed Error = "region is already being accessed"
	// ErrDecryptionFailed is returned when region contents fail authentication. It signals tampering or
	// corruption and the region is unusable afterwards.
	ErrDecryptionFailed Error = "region failed authentication"
	// ErrClosed is returned when using a region that has already been destroyed.
	ErrClosed Error = "region has already been destroyed"
	// ErrNonceExhausted is returned when a region's key has sealed as many times as its nonce space allows.
	ErrNonceExhausted Error = "nonce space exhausted"
)

// Misuse errors.
const (
	// ErrMoved is returned (or panicked with) when using a buffer whose contents were moved to another owner.
	ErrMoved Error = "buffer used after move"
	// ErrBufferClosed is returned (or panicked with) when using a buffer after Close.
	ErrBufferClosed Error = "buffer has already been closed"
)

// ProtectionError reports a failed lock or page protection syscall along with the protections that were
// already in effect when it happened.
type ProtectionError struct {
	// Kind is one of ErrLockFailed, ErrProtectFailed or ErrUnprotectFailed.
	Kind Error
	// Locked reports whether the memory was locked when the failure occurred.
	Locked bool
	// Protected reports whether the memory was marked no-access when the failure occurred.
	Protected bool
	// Err is the error returned by the underlying syscall wrapper.
	Err error
}

func (e *ProtectionError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap returns the underlying syscall error.
func (e *ProtectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *ProtectionError) Is(target error) bool {
	k, ok := target.(Error)
	return ok && k == e.Kind
}

// IsAllocationError returns true if err was caused by a failed or impossible allocation.
func IsAllocationError(err error) bool {
	return isAny(err, ErrOutOfMemory, ErrCapacityOverflow, ErrUnsupported)
}

// IsProtectionError returns true if err was caused by a failed lock or protection syscall.
func IsProtectionError(err error) bool {
	var pe *ProtectionError

	return errors.As(err, &pe)
}

// IsAccessError returns true if err was caused by an invalid or failed access to a region.
func IsAccessError(err error) bool {
	return isAny(err, ErrAlreadyAccessed, ErrDecryptionFailed, ErrClosed, ErrNonceExhausted)
}

func isAny(err error, targets ...Error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}

	return false
}
