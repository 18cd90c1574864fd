//go:build !nozeroize

package buffer

// WithZeroize wipes every element slot the buffer vacates, as well as its storage when it is closed or
// relocated.
func WithZeroize() Option {
	return func(c *config) {
		c.zeroize = true
	}
}
