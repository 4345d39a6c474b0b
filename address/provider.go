package address

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Provider allocates unique addresses of type T from a monotonic counter.
// It is safe for concurrent use; the counter is the only shared mutable state.
type Provider[T Integer] struct {
	counter   atomic.Uint64
	start     uint64
	width     int
	randomize bool
	mask      []byte
	active    sync.Pool
	allocated prometheus.Counter
}

type providerOptions struct {
	randomize  bool
	start      uint64
	maskSource io.Reader
	allocated  prometheus.Counter
}

// Option configures a Provider.
type Option func(*providerOptions)

// WithRandomization enables XOR masking of the encoded counter before hashing.
func WithRandomization(enabled bool) Option {
	return func(o *providerOptions) {
		o.randomize = enabled
	}
}

// WithCounterStart sets the counter's initial value. The first allocation
// returns start+1.
func WithCounterStart(start uint64) Option {
	return func(o *providerOptions) {
		o.start = start
	}
}

// WithMaskSource overrides the entropy source used to generate the mask.
// It defaults to crypto/rand.
func WithMaskSource(r io.Reader) Option {
	return func(o *providerOptions) {
		o.maskSource = r
	}
}

// WithAllocationCounter increments c on every successful allocation.
func WithAllocationCounter(c prometheus.Counter) Option {
	return func(o *providerOptions) {
		o.allocated = c
	}
}

// NewProvider creates a provider. The mask is read once here when randomisation
// is enabled and never changes afterwards.
func NewProvider[T Integer](opts ...Option) (*Provider[T], error) {
	o := providerOptions{maskSource: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider[T]{
		start:     o.start,
		width:     Width[T](),
		randomize: o.randomize,
		allocated: o.allocated,
	}
	p.counter.Store(o.start)
	p.active.New = func() any {
		buf := make([]byte, p.width)
		return &buf
	}

	if p.randomize {
		p.mask = make([]byte, p.width)
		if _, err := io.ReadFull(o.maskSource, p.mask); err != nil {
			return nil, fmt.Errorf("generate address mask: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewProvider",
		"package":   "address",
		"width":     p.width,
		"randomize": p.randomize,
		"start":     p.start,
	}).Debug("Address provider created")

	return p, nil
}

// Get allocates the next address.
func (p *Provider[T]) Get() (Address[T], error) {
	addr, _, err := p.GetIndexed()
	return addr, err
}

// MustGet allocates the next address and panics when the provider is
// exhausted. It is meant for composition code that treats exhaustion as fatal.
func (p *Provider[T]) MustGet() Address[T] {
	addr, err := p.Get()
	if err != nil {
		panic(err)
	}
	return addr
}

// GetIndexed allocates the next address and also returns the raw counter value
// it was derived from. The ordinal is stable and ordered, unlike the address.
func (p *Provider[T]) GetIndexed() (Address[T], uint64, error) {
	index, err := p.next()
	if err != nil {
		return Address[T]{}, 0, err
	}

	buf := make([]byte, p.width)
	encodeCounter(buf, index)
	p.Randomize(buf)

	if p.allocated != nil {
		p.allocated.Inc()
	}
	return hashBytes[T](buf), index, nil
}

func (p *Provider[T]) next() (uint64, error) {
	for {
		cur := p.counter.Load()
		if cur == math.MaxUint64 {
			logrus.WithFields(logrus.Fields{
				"function": "next",
				"package":  "address",
				"width":    p.width,
				"total":    cur - p.start,
			}).Error("Address counter exhausted, refusing allocation")
			return 0, ErrAddressSpaceExhausted
		}
		if p.counter.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

// Randomize XORs data with the provider mask, limited to the bytes marked in the
// active mask. It is a no-op when randomisation is disabled.
func (p *Provider[T]) Randomize(data []byte) {
	if !p.randomize {
		return
	}

	activePtr := p.active.Get().(*[]byte)
	defer p.active.Put(activePtr)
	active := *activePtr

	covered := encodedWidth(p.width)
	for i := range active {
		if i < covered {
			active[i] = 0xFF
		} else {
			active[i] = 0x00
		}
	}

	n := len(data)
	if n > len(p.mask) {
		n = len(p.mask)
	}
	for i := 0; i < n; i++ {
		data[i] ^= p.mask[i] & active[i]
	}
}

// TotalAllocated returns how many addresses this provider has issued.
func (p *Provider[T]) TotalAllocated() uint64 {
	return p.counter.Load() - p.start
}

// Randomized reports whether the provider masks counters before hashing.
func (p *Provider[T]) Randomized() bool {
	return p.randomize
}

// encodedWidth is the number of bytes the counter encoding writes into a
// buffer of the given size.
func encodedWidth(size int) int {
	switch {
	case size >= 8:
		return 8
	case size >= 4:
		return 4
	case size >= 2:
		return 2
	case size >= 1:
		return 1
	}
	return 0
}

// encodeCounter writes v into buf. Buffers narrower than 8 bytes receive v
// truncated to the widest unsigned integer that fits, so narrow address types
// reuse encodings once the counter passes their range.
func encodeCounter(buf []byte, v uint64) {
	switch encodedWidth(len(buf)) {
	case 8:
		putLittleEndian(buf[:8], v)
	case 4:
		putLittleEndian(buf[:4], uint64(uint32(v)))
	case 2:
		putLittleEndian(buf[:2], uint64(uint16(v)))
	case 1:
		buf[0] = uint8(v)
	}
}
