package memcall

import "github.com/pkg/errors"

// Cleaner is the interface that groups the basic Free and Unlock methods.
type Cleaner interface {
	Freer
	Unlocker
}

// Clean attempts to clean b using c and groups any errors into a single return
// value err.
func Clean(c Cleaner, b []byte) error {
	return Release(c, b, true)
}

// Release frees b using c, unlocking it first if locked is true. Any errors are grouped into a single return
// value err with the last failure outermost.
func Release(c Cleaner, b []byte, locked bool) (err error) {
	if locked {
		if err = c.Unlock(b); err != nil {
			err = errors.WithStack(err)
		}
	}

	if err2 := c.Free(b); err2 != nil {
		err = Fold(err, errors.WithStack(err2))
	}

	return
}

// Fold combines a primary error with a later one, keeping the primary as the cause so errors.Is still finds it.
func Fold(err, later error) error {
	switch {
	case later == nil:
		return err
	case err == nil:
		return later
	default:
		return errors.Wrap(err, later.Error())
	}
}
