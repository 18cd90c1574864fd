// Command example exercises buffers and secure regions under concurrent load and reports the collected metrics.
package main

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/jessevdk/go-flags"
	"github.com/logrusorgru/aurora"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/alloc"
	"github.com/godaddy/asherah/go/flexmem/buffer"
	"github.com/godaddy/asherah/go/flexmem/keystore"
	"github.com/godaddy/asherah/go/flexmem/keystore/guarded"
	"github.com/godaddy/asherah/go/flexmem/keystore/protected"
	"github.com/godaddy/asherah/go/flexmem/log"
	"github.com/godaddy/asherah/go/flexmem/secure"
)

type Options struct {
	Size      int    `short:"n" long:"size" default:"32" description:"Number of secret bytes held by each region."`
	Count     int    `short:"c" long:"count" default:"100" description:"Number of regions each worker creates."`
	Workers   int    `short:"w" long:"workers" default:"4" description:"Number of workers to run concurrently."`
	Accesses  int    `short:"a" long:"accesses" default:"10" description:"Number of times each region is accessed before it is closed."`
	Inline    int    `short:"i" long:"inline" default:"16" description:"Inline capacity of the staging buffer."`
	Allocator string `long:"allocator" default:"heap" choice:"heap" choice:"native" choice:"secure" description:"Allocator used by the staging buffer once it spills."`
	Cipher    string `long:"cipher" default:"xchacha" choice:"xchacha" choice:"aes" description:"Cipher used to encrypt regions at rest."`
	KeyStore  string `long:"keystore" default:"protected" choice:"protected" choice:"guarded" description:"Implementation holding region keys."`
	Rekey     bool   `short:"k" long:"rekey" description:"Rekeys every region once before closing it."`
	Metrics   bool   `short:"m" long:"metrics" description:"Dumps metrics to stdout in JSON format"`
	Verbose   bool   `short:"v" long:"verbose" description:"Enables verbose output"`
	ShowAll   bool   `long:"all" description:"Report timers that never ran and dump runtime metrics as well."`
}

var (
	opts        Options
	stageTimer  = metrics.NewTimer()
	accessTimer = metrics.NewTimer()
	rekeyTimer  = metrics.NewTimer()
)

func init() {
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
	metrics.RegisterDebugGCStats(metrics.DefaultRegistry)
}

type loggerFunc func(format string, v ...interface{})

func (f loggerFunc) Debugf(format string, v ...interface{}) {
	f(format, v...)
}

func main() {
	f, err := flags.Parse(&opts)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}

		panic(err)
	}

	l := logger.Init("example", opts.Verbose, false, io.Discard)
	defer l.Close()

	if opts.Verbose {
		if len(f) > 0 {
			l.Infof("ignoring arguments: %v", f)
		}

		log.SetLogger(loggerFunc(l.Infof))
	}

	l.Infof("running %d workers with %s regions of %d bytes", opts.Workers, opts.Cipher, opts.Size)

	regionOpts := []secure.Option{
		secure.WithCipher(cipherFactory()),
		secure.WithKeyStore(keyStore()),
	}

	a := stagingAllocator()
	if c, ok := a.(interface{ Close() error }); ok {
		defer c.Close()
	}

	start := time.Now()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < opts.Count; j++ {
				if err := run(a, regionOpts); err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()

					return
				}
			}
		}()
	}

	wg.Wait()

	end := time.Since(start)

	for _, err := range failed {
		l.Errorf("%s %+v", aurora.Red("worker failed:"), err)
	}

	if opts.Metrics {
		r := newReport(os.Stderr)

		r.summary(end, len(failed))
		r.timers(opts.ShowAll,
			namedTimer{"staging", stageTimer},
			namedTimer{"access", accessTimer},
			namedTimer{"rekey", rekeyTimer},
			namedTimer{"region construction", secure.AllocTimer},
			namedTimer{"scopes", secure.ScopeTimer},
		)

		if err := r.registry(metrics.DefaultRegistry, opts.ShowAll); err != nil {
			l.Errorf("unable to dump metrics: %v", err)
		}
	}

	if opts.Verbose {
		l.Infof(
			"[run complete] allocations: total=%d, inuse=%d, regions=%d, keys=%d\n",
			flexmem.AllocCounter.Count(),
			flexmem.InUseCounter.Count(),
			secure.RegionCounter.Count(),
			keystore.InUseCounter.Count())
	}

	if len(failed) > 0 {
		l.Close()
		os.Exit(1)
	}
}

// run stages random bytes in a buffer, moves them into a region and checks every access sees the same bytes.
func run(a alloc.Allocator, regionOpts []secure.Option) error {
	var (
		region *secure.Region
		digest [sha256.Size]byte
		err    error
	)

	stageTimer.Time(func() {
		region, digest, err = stage(a, regionOpts)
	})

	if err != nil {
		return err
	}

	defer region.Close()

	check := func(b []byte) error {
		if sum := sha256.Sum256(b); !bytes.Equal(sum[:], digest[:]) {
			return errors.New("region contents changed between accesses")
		}

		return nil
	}

	for i := 0; i < opts.Accesses; i++ {
		accessTimer.Time(func() {
			err = region.WithBytes(check)
		})

		if err != nil {
			return errors.WithMessagef(err, "region(%s) access %d", region.ID(), i)
		}
	}

	if opts.Rekey {
		rekeyTimer.Time(func() {
			err = region.Rekey(regionOpts...)
		})

		if err != nil {
			return errors.WithMessagef(err, "region(%s) rekey", region.ID())
		}

		if err := region.WithBytes(check); err != nil {
			return errors.WithMessagef(err, "region(%s) after rekey", region.ID())
		}
	}

	return region.Close()
}

func stage(a alloc.Allocator, regionOpts []secure.Option) (*secure.Region, [sha256.Size]byte, error) {
	var digest [sha256.Size]byte

	inline := make([]byte, opts.Inline)

	buf, err := buffer.TryNewInline[byte, uint32](inline, buffer.WithAllocator(a))
	if err != nil {
		return nil, digest, err
	}

	defer buf.Close()

	err = secure.WithStackRandom(min(opts.Size, secure.StackCapacity), func(chunk []byte) error {
		for buf.Len() < opts.Size {
			n := min(len(chunk), opts.Size-buf.Len())
			if err := buf.TryExtend(chunk[:n]); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, digest, err
	}

	digest = sha256.Sum256(buf.Slice())

	region, err := secure.NewRegion(buf.Slice(), regionOpts...)

	return region, digest, err
}

func cipherFactory() secure.CipherFactory {
	if opts.Cipher == "aes" {
		return secure.AES256GCM
	}

	return secure.XChaCha20Poly1305
}

func keyStore() keystore.Factory {
	if opts.KeyStore == "guarded" {
		return new(guarded.Factory)
	}

	return new(protected.Factory)
}
