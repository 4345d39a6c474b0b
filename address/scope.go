package address

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Addressable is implemented by every entity that can be referenced by address
// from another process.
type Addressable interface {
	Address() Address[uint64]
	// Exit releases the entity's resources and removes it from service. Owners
	// call it exactly once when the entity is retired.
	Exit() error
}

// ExitFunc releases the resources of an addressable entity.
type ExitFunc func() error

// Handle is the capability an entity embeds to become addressable. Its address
// is fixed for its lifetime.
type Handle struct {
	addr    Address[uint64]
	ordinal uint64
	scope   *Scope
	exit    ExitFunc
	exited  atomic.Bool
}

// Address returns the handle's address.
func (h *Handle) Address() Address[uint64] {
	return h.addr
}

// Ordinal returns the raw allocation counter behind the address.
func (h *Handle) Ordinal() uint64 {
	return h.ordinal
}

// Exited reports whether Exit has been called.
func (h *Handle) Exited() bool {
	return h.exited.Load()
}

// Exit detaches the handle from its scope and runs the exit function. Only the
// first call has any effect; later calls return ErrAlreadyExited.
func (h *Handle) Exit() error {
	if !h.exited.CompareAndSwap(false, true) {
		return ErrAlreadyExited
	}
	if h.scope != nil {
		h.scope.release(h)
	}
	if h.exit == nil {
		return nil
	}
	return h.exit()
}

// Scope hands out addressable handles from one provider and tracks which of
// them are still live.
type Scope struct {
	provider *Provider[uint64]

	mu     sync.Mutex
	live   map[Address[uint64]]*Handle
	closed bool
}

// NewScope creates a scope over p.
func NewScope(p *Provider[uint64]) *Scope {
	return &Scope{
		provider: p,
		live:     make(map[Address[uint64]]*Handle),
	}
}

// Provider returns the provider backing the scope.
func (s *Scope) Provider() *Provider[uint64] {
	return s.provider
}

// Acquire allocates an address and returns a live handle for it. exit may be nil.
func (s *Scope) Acquire(exit ExitFunc) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}

	addr, ordinal, err := s.provider.GetIndexed()
	if err != nil {
		return nil, fmt.Errorf("acquire address: %w", err)
	}
	if _, exists := s.live[addr]; exists {
		// A 64-bit hash collision among live handles.
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
	}

	h := &Handle{
		addr:    addr,
		ordinal: ordinal,
		scope:   s,
		exit:    exit,
	}
	s.live[addr] = h
	return h, nil
}

// Live returns the number of handles that have not exited.
func (s *Scope) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Scope) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, h.addr)
}

// Close stops further acquisition and exits every handle still live. Each of
// those handles is reported as an ErrNotExited error, combined with any error
// returned by their exit functions.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	leaked := make([]*Handle, 0, len(s.live))
	for _, h := range s.live {
		leaked = append(leaked, h)
	}
	s.mu.Unlock()

	var errs error
	for _, h := range leaked {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s (ordinal %d)", ErrNotExited, h.addr, h.ordinal))
		if err := h.Exit(); err != nil && !errors.Is(err, ErrAlreadyExited) {
			errs = multierr.Append(errs, fmt.Errorf("exit %s: %w", h.addr, err))
		}
	}

	if len(leaked) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"package":  "address",
			"leaked":   len(leaked),
		}).Warn("Address scope closed with live handles")
	}
	return errs
}
