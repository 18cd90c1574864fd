package secure

import (
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/keystore"
	"github.com/godaddy/asherah/go/flexmem/keystore/protected"
)

type config struct {
	cipher CipherFactory
	keys   keystore.Factory
	mc     memcall.Interface
}

func newConfig(opts []Option) *config {
	c := &config{
		cipher: XChaCha20Poly1305,
		mc:     memcall.Default,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.keys == nil {
		c.keys = new(protected.Factory)
	}

	return c
}

// Option is used to configure a Region.
type Option func(*config)

// WithCipher sets the AEAD used to encrypt the region at rest. Defaults to XChaCha20Poly1305.
func WithCipher(cf CipherFactory) Option {
	return func(c *config) {
		if cf != nil {
			c.cipher = cf
		}
	}
}

// WithKeyStore sets the factory used to hold the region's key. Defaults to a protected.Factory.
func WithKeyStore(f keystore.Factory) Option {
	return func(c *config) {
		c.keys = f
	}
}

// withMemcall replaces the syscalls used for the region's pages.
func withMemcall(mc memcall.Interface) Option {
	return func(c *config) {
		c.mc = mc
	}
}
