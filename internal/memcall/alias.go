package memcall

import "github.com/awnumar/memcall"

// MemoryProtectionFlag specifies some particular memory protection flag.
type MemoryProtectionFlag = memcall.MemoryProtectionFlag

// Mode is a page protection mode understood by the region and allocator code.
type Mode int

// Page protection modes.
const (
	ModeNoAccess Mode = iota
	ModeReadOnly
	ModeReadWrite
)

// Flag returns the memcall flag implementing m.
func (m Mode) Flag() MemoryProtectionFlag {
	switch m {
	case ModeReadWrite:
		return memcall.ReadWrite()
	case ModeReadOnly:
		return memcall.ReadOnly()
	default:
		return memcall.NoAccess()
	}
}

func (m Mode) String() string {
	switch m {
	case ModeReadWrite:
		return "read-write"
	case ModeReadOnly:
		return "read-only"
	default:
		return "no-access"
	}
}

// NoAccess specifies that the memory should be marked unreadable and immutable.
func NoAccess() MemoryProtectionFlag {
	return ModeNoAccess.Flag()
}

// ReadOnly specifies that the memory should be marked read-only (immutable).
func ReadOnly() MemoryProtectionFlag {
	return ModeReadOnly.Flag()
}

// ReadWrite specifies that the memory should be made readable and writable.
func ReadWrite() MemoryProtectionFlag {
	return ModeReadWrite.Flag()
}
