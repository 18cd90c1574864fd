package secure

import (
	"bytes"
	"crypto/cipher"
	"io"
	"math"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/keystore/guarded"
)

const secret32 = "thisismy32bytesecretthatiwilluse"

var (
	errLock    = errors.New("error from mlock")
	errProtect = errors.New("error from protect")
	errCipher  = errors.New("error from cipher")
)

type MockMemcall struct {
	mock.Mock
}

func (m *MockMemcall) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (m *MockMemcall) Protect(b []byte, mpf memcall.MemoryProtectionFlag) error {
	return m.Called(b, mpf).Error(0)
}

func (m *MockMemcall) Lock(b []byte) error {
	return m.Called(b).Error(0)
}

func (m *MockMemcall) Unlock(b []byte) error {
	return m.Called(b).Error(0)
}

func (m *MockMemcall) Free(b []byte) error {
	return m.Called(b).Error(0)
}

// allowAll registers successful defaults for every call not already expected.
func (m *MockMemcall) allowAll() *MockMemcall {
	m.On("Protect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Lock", mock.Anything).Return(nil).Maybe()
	m.On("Unlock", mock.Anything).Return(nil).Maybe()
	m.On("Free", mock.Anything).Return(nil).Maybe()

	return m
}

// cipherFailingAfter returns a CipherFactory that succeeds n times and fails afterwards.
func cipherFailingAfter(n int) CipherFactory {
	calls := 0

	return func(key []byte) (cipher.AEAD, error) {
		calls++
		if calls > n {
			return nil, errCipher
		}

		return XChaCha20Poly1305(key)
	}
}

func newTestRegion(t *testing.T, opts ...Option) *Region {
	r, err := NewRegion([]byte(secret32), opts...)
	require.NoError(t, err)

	return r
}

func TestRegion_RoundTrip(t *testing.T) {
	orig := []byte(secret32)

	r, err := NewRegion(orig)
	require.NoError(t, err)

	defer r.Close()

	assert.Equal(t, make([]byte, len(secret32)), orig, "source must be wiped")
	assert.Equal(t, 32, r.Len())
	assert.Equal(t, EncryptedAtRest, r.State())

	for i := 0; i < 3; i++ {
		assert.NoError(t, r.WithBytes(func(b []byte) error {
			assert.Equal(t, secret32, string(b))
			return nil
		}))
	}

	assert.Equal(t, EncryptedAtRest, r.State())
}

func TestRegion_CiphertextAtRest(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	s, err := r.Open()
	require.NoError(t, err)

	assert.Equal(t, secret32, string(s.Bytes()))
	assert.Equal(t, 32, s.Len())
	require.NoError(t, s.Close())

	// read the backing pages directly
	require.NoError(t, memcall.Default.Protect(r.mem, memcall.ReadOnly()))

	raw := make([]byte, len(r.mem))
	copy(raw, r.mem)

	require.NoError(t, memcall.Default.Protect(r.mem, memcall.NoAccess()))

	assert.NotEqual(t, []byte(secret32), raw[:32])
	assert.False(t, bytes.Contains(raw, []byte(secret32)))
	assert.Len(t, raw, 32+16)
}

func TestRegion_NonceUniqueness(t *testing.T) {
	m := new(MockMemcall).allowAll()
	r := newTestRegion(t, withMemcall(m))

	defer r.Close()

	nonces := map[string]bool{string(r.nonce): true}
	ciphertexts := map[string]bool{string(r.mem): true}

	for i := 0; i < 50; i++ {
		require.NoError(t, r.WithBytes(func(b []byte) error {
			assert.Equal(t, secret32, string(b))
			return nil
		}))

		assert.False(t, nonces[string(r.nonce)], "nonce reused")
		assert.False(t, ciphertexts[string(r.mem)], "ciphertext repeated")

		nonces[string(r.nonce)] = true
		ciphertexts[string(r.mem)] = true
	}

	assert.Equal(t, uint64(51), r.key.counter)
}

func TestRegion_ScopeExclusivity(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	s, err := r.Open()
	require.NoError(t, err)

	assert.Equal(t, Locked, r.State())

	_, err = r.Open()
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrAlreadyAccessed))
		assert.True(t, flexmem.IsAccessError(err))
	}

	err = r.WithBytes(func([]byte) error {
		t.Fail()
		return nil
	})
	assert.True(t, errors.Is(err, flexmem.ErrAlreadyAccessed))

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Nil(t, s.Bytes())

	s, err = r.Open()
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestRegion_WithBytes_Panic(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	assert.Panics(t, func() {
		_ = r.WithBytes(func([]byte) error {
			panic("boom")
		})
	})

	assert.Equal(t, EncryptedAtRest, r.State())
	assert.NoError(t, r.WithBytes(func(b []byte) error {
		assert.Equal(t, secret32, string(b))
		return nil
	}))
}

func TestRegion_WithBytes_ActionError(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	errAction := errors.New("action failed")

	assert.Equal(t, errAction, r.WithBytes(func([]byte) error {
		return errAction
	}))

	ret, err := r.WithBytesFunc(func(b []byte) ([]byte, error) {
		return []byte{b[0]}, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("t"), ret)
}

func TestRegion_WithBytes_SetNoAccessError(t *testing.T) {
	m := new(MockMemcall)
	r := newTestRegion(t, withMemcall(m.allowAll()))

	defer r.Close()

	m.ExpectedCalls = nil
	m.On("Protect", mock.Anything, memcall.NoAccess()).Return(errProtect).Once()
	m.allowAll()

	err := r.WithBytes(func([]byte) error {
		return errors.New("action failed")
	})

	if assert.Error(t, err) {
		assert.EqualError(t, err, "unable to mark memory as no-access: error from protect: action failed")
	}

	// sealed but readable, the next scope still decrypts
	assert.Equal(t, Locked, r.State())
	assert.NoError(t, r.WithBytes(func(b []byte) error {
		assert.Equal(t, secret32, string(b))
		return nil
	}))
	assert.Equal(t, EncryptedAtRest, r.State())
}

func TestRegion_Open_UnprotectError(t *testing.T) {
	m := new(MockMemcall)
	r := newTestRegion(t, withMemcall(m.allowAll()))

	defer r.Close()

	m.ExpectedCalls = nil
	m.On("Protect", mock.Anything, memcall.ReadWrite()).Return(errProtect).Once()
	m.allowAll()

	_, err := r.Open()
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrUnprotectFailed))

		var pe *flexmem.ProtectionError
		require.True(t, errors.As(err, &pe))
		assert.True(t, pe.Locked)
		assert.True(t, pe.Protected)
	}

	assert.Equal(t, EncryptedAtRest, r.State())
}

func TestRegion_Construction_LockFailure(t *testing.T) {
	m := new(MockMemcall)
	m.On("Lock", mock.Anything).Return(errLock)
	m.On("Free", mock.Anything).Return(nil)

	orig := []byte(secret32)

	r, err := NewRegion(orig, withMemcall(m))
	assert.Nil(t, r)

	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrLockFailed))
		assert.True(t, errors.Is(err, errLock))

		var pe *flexmem.ProtectionError
		require.True(t, errors.As(err, &pe))
		assert.False(t, pe.Locked)
		assert.False(t, pe.Protected)
	}

	assert.Equal(t, make([]byte, 32), orig)

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Unlock", mock.Anything)
	m.AssertNotCalled(t, "Protect", mock.Anything, mock.Anything)
}

func TestRegion_Construction_ProtectFailure(t *testing.T) {
	var mem []byte

	m := new(MockMemcall)
	m.On("Lock", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		mem = args.Get(0).([]byte)
	})
	m.On("Protect", mock.Anything, memcall.NoAccess()).Return(errProtect)
	m.On("Unlock", mock.Anything).Return(nil)
	m.On("Free", mock.Anything).Return(nil)

	r, err := NewRandomRegion(64, withMemcall(m))
	assert.Nil(t, r)

	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrProtectFailed))
		assert.True(t, flexmem.IsProtectionError(err))

		var pe *flexmem.ProtectionError
		require.True(t, errors.As(err, &pe))
		assert.True(t, pe.Locked)
		assert.False(t, pe.Protected)
	}

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Unlock", 1)
	m.AssertNumberOfCalls(t, "Free", 1)
	assert.Equal(t, make([]byte, len(mem)), mem, "pages must be wiped")
}

func TestRegion_Construction_EncryptFailure(t *testing.T) {
	var mem []byte

	m := new(MockMemcall)
	m.On("Lock", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		mem = args.Get(0).([]byte)
	})
	m.On("Unlock", mock.Anything).Return(nil)
	m.On("Free", mock.Anything).Return(nil)

	orig := []byte(secret32)

	r, err := NewRegion(orig, withMemcall(m), WithCipher(cipherFailingAfter(1)))
	assert.Nil(t, r)

	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, errCipher))
	}

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Protect", mock.Anything, mock.Anything)
	m.AssertNumberOfCalls(t, "Unlock", 1)
	assert.Equal(t, make([]byte, len(mem)), mem, "plaintext must be wiped")
	assert.Equal(t, make([]byte, 32), orig)
}

func TestRegion_Construction_CleanupErrors(t *testing.T) {
	m := new(MockMemcall)
	m.On("Lock", mock.Anything).Return(nil)
	m.On("Protect", mock.Anything, memcall.NoAccess()).Return(errProtect)
	m.On("Unlock", mock.Anything).Return(errors.New("error from unlock"))
	m.On("Free", mock.Anything).Return(errors.New("error from free"))

	_, err := NewRandomRegion(8, withMemcall(m))
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, errProtect))
		assert.EqualError(t, err, "error from free: error from unlock: unable to mark memory as no-access: error from protect")
	}
}

func TestRegion_Construction_KeyFailure(t *testing.T) {
	m := new(MockMemcall)

	_, err := NewRandomRegion(8, withMemcall(m), WithCipher(cipherFailingAfter(0)))
	assert.True(t, errors.Is(err, errCipher))

	m.AssertNotCalled(t, "Lock", mock.Anything)
	m.AssertNotCalled(t, "Free", mock.Anything)
}

func TestRegion_Tampered(t *testing.T) {
	m := new(MockMemcall).allowAll()
	r := newTestRegion(t, withMemcall(m))

	defer r.Close()

	r.mem[3] ^= 0xff

	_, err := r.Open()
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrDecryptionFailed))
		assert.True(t, flexmem.IsAccessError(err))
	}

	assert.Equal(t, Protected, r.State())
	assert.Equal(t, make([]byte, len(r.mem)), r.mem)

	_, err = r.Open()
	assert.True(t, errors.Is(err, flexmem.ErrDecryptionFailed))

	assert.NoError(t, r.Close())
	assert.Equal(t, Destroyed, r.State())
}

func TestRegion_Open_CipherError(t *testing.T) {
	m := new(MockMemcall).allowAll()
	r := newTestRegion(t, withMemcall(m), WithCipher(cipherFailingAfter(2)))

	defer r.Close()

	_, err := r.Open()
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, errCipher))
		assert.False(t, errors.Is(err, flexmem.ErrDecryptionFailed))
	}

	// a cipher failure is not tampering, the ciphertext is kept
	assert.Equal(t, EncryptedAtRest, r.State())
	assert.False(t, r.poisoned)
}

func TestRegion_NonceExhausted(t *testing.T) {
	m := new(MockMemcall).allowAll()
	r := newTestRegion(t, withMemcall(m))

	defer r.Close()

	s, err := r.Open()
	require.NoError(t, err)

	r.key.counter = math.MaxUint64

	err = s.Close()
	if assert.Error(t, err) {
		assert.True(t, errors.Is(err, flexmem.ErrNonceExhausted))
	}

	assert.Equal(t, Protected, r.State())

	_, err = r.Open()
	assert.True(t, errors.Is(err, flexmem.ErrDecryptionFailed))
}

func TestRegion_Close(t *testing.T) {
	RegionCounter.Clear()

	r := newTestRegion(t)
	assert.Equal(t, int64(1), RegionCounter.Count())

	assert.False(t, r.IsClosed())
	assert.NoError(t, r.Close())
	assert.True(t, r.IsClosed())
	assert.NoError(t, r.Close())
	assert.Equal(t, Destroyed, r.State())
	assert.Equal(t, int64(0), RegionCounter.Count())

	_, err := r.Open()
	assert.True(t, errors.Is(err, flexmem.ErrClosed))

	err = r.WithBytes(func([]byte) error {
		t.Fail()
		return nil
	})
	assert.EqualError(t, err, flexmem.ErrClosed.Error())
}

func TestRegion_Close_WaitsForScope(t *testing.T) {
	r := newTestRegion(t)

	s, err := r.Open()
	require.NoError(t, err)

	closed := make(chan struct{})

	go func() {
		assert.NoError(t, r.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("region closed while a scope was live")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, secret32, string(s.Bytes()))
	require.NoError(t, s.Close())

	<-closed
	assert.True(t, r.IsClosed())
}

func TestRegion_Close_WipesAndReleases(t *testing.T) {
	var mem []byte

	m := new(MockMemcall)
	m.On("Lock", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		mem = args.Get(0).([]byte)
	})
	m.On("Protect", mock.Anything, mock.Anything).Return(nil)
	m.On("Unlock", mock.Anything).Return(nil)
	m.On("Free", mock.Anything).Return(nil)

	r := newTestRegion(t, withMemcall(m))
	require.NoError(t, r.Close())

	assert.Equal(t, make([]byte, len(mem)), mem)
	m.AssertCalled(t, "Protect", mock.Anything, memcall.ReadWrite())
	m.AssertNumberOfCalls(t, "Unlock", 1)
	m.AssertNumberOfCalls(t, "Free", 1)
}

func TestRegion_NewReader(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	b, err := io.ReadAll(r.NewReader())
	assert.NoError(t, err)
	assert.Equal(t, secret32, string(b))
	assert.Equal(t, EncryptedAtRest, r.State())
}

func TestRegion_Rekey(t *testing.T) {
	r := newTestRegion(t)
	defer r.Close()

	old := r.key

	require.NoError(t, r.Rekey())
	assert.NotSame(t, old, r.key)
	assert.True(t, old.secret.IsClosed())

	assert.NoError(t, r.WithBytes(func(b []byte) error {
		assert.Equal(t, secret32, string(b))
		return nil
	}))

	s, err := r.Open()
	require.NoError(t, err)

	err = r.Rekey()
	assert.True(t, errors.Is(err, flexmem.ErrAlreadyAccessed))
	assert.NoError(t, s.Close())
}

func TestRegion_Options(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "aes-gcm", opts: []Option{WithCipher(AES256GCM)}},
		{name: "guarded keystore", opts: []Option{WithKeyStore(new(guarded.Factory))}},
		{name: "defaults", opts: []Option{WithCipher(nil)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRandomRegion(100, tt.opts...)
			require.NoError(t, err)

			defer r.Close()

			var first []byte

			first, err = r.WithBytesFunc(func(b []byte) ([]byte, error) {
				return append([]byte(nil), b...), nil
			})
			require.NoError(t, err)
			assert.Len(t, first, 100)

			assert.NoError(t, r.WithBytes(func(b []byte) error {
				assert.Equal(t, first, b)
				return nil
			}))
		})
	}
}

func TestRegion_Empty(t *testing.T) {
	r, err := NewRegion(nil)
	require.NoError(t, err)

	defer r.Close()

	assert.NoError(t, r.WithBytes(func(b []byte) error {
		assert.Empty(t, b)
		return nil
	}))
}

func TestRegion_TriggerFinalizer(t *testing.T) {
	RegionCounter.Clear()

	r := newTestRegion(t)
	internal := r.regionInternal

	assert.GreaterOrEqual(t, unsafe.Sizeof(*r.dummy), uintptr(16))

	runtime.KeepAlive(r)
	// r now unreachable

	expireAt := time.Now().Add(time.Second * 10)
	closed := false

	for {
		internal.mu.Lock()
		destroyed := internal.state == Destroyed
		internal.mu.Unlock()

		if destroyed {
			closed = true
			break
		}

		if time.Now().After(expireAt) {
			break
		}

		runtime.GC() // should collect r
		time.Sleep(time.Millisecond * 5)
	}

	assert.True(t, closed)
	assert.Equal(t, int64(0), RegionCounter.Count())
}

func TestRegion_ID(t *testing.T) {
	r1 := newTestRegion(t)
	defer r1.Close()

	r2 := newTestRegion(t)
	defer r2.Close()

	assert.NotEqual(t, uuid.Nil, r1.ID())
	assert.NotEqual(t, r1.ID(), r2.ID())

	require.NoError(t, r1.Close())
	assert.Equal(t, r1.id, r1.ID(), "id survives close")
}
