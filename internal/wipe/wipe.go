// Package wipe provides the zeroing and random fill primitives used on sensitive memory.
package wipe

import (
	"crypto/rand"
	"runtime"
	"unsafe"

	"github.com/awnumar/memguard/core"
)

// Bytes overwrites buf with zeroes. The write is kept observable so the compiler cannot drop it as a dead store,
// even when buf is about to be released.
func Bytes(buf []byte) {
	if len(buf) == 0 {
		return
	}

	core.Wipe(buf)

	// Same approach as memguard, see https://github.com/golang/go/issues/33325
	runtime.KeepAlive(buf)
}

// Slice wipes the memory backing s.
func Slice[T any](s []T) {
	Bytes(AsBytes(s))
}

// AsBytes returns the memory backing s as a byte slice.
func AsBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}

	var zero T

	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// Fill sets every byte of buf to v.
func Fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}

	runtime.KeepAlive(buf)
}

// FillRandom takes a buffer and overwrites it with cryptographically-secure random bytes.
func FillRandom(buf []byte) {
	fillRandom(buf, rand.Read)
}

func fillRandom(buf []byte, r func([]byte) (int, error)) {
	if _, err := r(buf); err != nil {
		panic(err)
	}

	runtime.KeepAlive(buf)
}
