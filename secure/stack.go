package secure

import (
	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
)

// StackCapacity is the number of bytes a Stack can hold.
const StackCapacity = 512

// Stack is a fixed size value for short-lived secrets, such as a key copied out of a region for a single
// operation. It never allocates. The Go runtime may still copy a Stack when it grows a goroutine stack or
// moves it to the heap, so wiping only guarantees the final location is cleared.
type Stack struct {
	buf [StackCapacity]byte
	n   int
}

// Load wipes s and copies b into it, then wipes b.
func (s *Stack) Load(b []byte) error {
	if len(b) > StackCapacity {
		return errors.Wrapf(flexmem.ErrCapacityOverflow, "%d bytes exceed stack capacity %d", len(b), StackCapacity)
	}

	s.Wipe()
	s.n = copy(s.buf[:], b)
	wipe.Bytes(b)

	return nil
}

// Random wipes s and fills it with n random bytes.
func (s *Stack) Random(n int) error {
	if n < 0 || n > StackCapacity {
		return errors.Wrapf(flexmem.ErrCapacityOverflow, "%d bytes exceed stack capacity %d", n, StackCapacity)
	}

	s.Wipe()
	s.n = n
	wipe.FillRandom(s.buf[:n])

	return nil
}

// Bytes returns the bytes held by s.
func (s *Stack) Bytes() []byte {
	return s.buf[:s.n]
}

// Len returns the number of bytes held by s.
func (s *Stack) Len() int {
	return s.n
}

// Cap returns StackCapacity.
func (*Stack) Cap() int {
	return StackCapacity
}

// Wipe zeroes the whole of s.
func (s *Stack) Wipe() {
	wipe.Bytes(s.buf[:])
	s.n = 0
}

// WithStack copies b into a Stack, wiping b, and passes the copy to action. The copy is wiped when action
// returns or panics.
func WithStack(b []byte, action func([]byte) error) error {
	var s Stack
	defer s.Wipe()

	if err := s.Load(b); err != nil {
		return err
	}

	return action(s.Bytes())
}

// WithStackRandom passes n random bytes held in a Stack to action. The bytes are wiped when action returns
// or panics.
func WithStackRandom(n int, action func([]byte) error) error {
	var s Stack
	defer s.Wipe()

	if err := s.Random(n); err != nil {
		return err
	}

	return action(s.Bytes())
}

// TakeStack copies the plaintext of r into a Stack and passes it to action once the region has been sealed
// again. The copy is wiped when action returns or panics.
func TakeStack(r *Region, action func([]byte) error) error {
	if r.Len() > StackCapacity {
		return errors.Wrapf(flexmem.ErrCapacityOverflow, "%d bytes exceed stack capacity %d", r.Len(), StackCapacity)
	}

	var s Stack
	defer s.Wipe()

	err := r.WithBytes(func(b []byte) error {
		s.n = copy(s.buf[:], b)
		return nil
	})
	if err != nil {
		return err
	}

	return action(s.Bytes())
}
