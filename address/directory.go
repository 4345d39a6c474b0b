package address

import (
	"fmt"
	"sync"
)

// Directory is a concurrent map of addressable entities keyed by address.
type Directory[V Addressable] struct {
	mu      sync.RWMutex
	entries map[Address[uint64]]V
}

// NewDirectory creates an empty directory.
func NewDirectory[V Addressable]() *Directory[V] {
	return &Directory[V]{entries: make(map[Address[uint64]]V)}
}

// Put inserts v under its own address.
func (d *Directory[V]) Put(v V) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := v.Address()
	if _, exists := d.entries[addr]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
	}
	d.entries[addr] = v
	return nil
}

// Get looks up the entity stored under addr.
func (d *Directory[V]) Get(addr Address[uint64]) (V, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.entries[addr]
	return v, ok
}

// Remove deletes and returns the entity stored under addr.
func (d *Directory[V]) Remove(addr Address[uint64]) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.entries[addr]
	if ok {
		delete(d.entries, addr)
	}
	return v, ok
}

// Len returns the number of entries.
func (d *Directory[V]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns the current entries in no particular order.
func (d *Directory[V]) Snapshot() []V {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]V, 0, len(d.entries))
	for _, v := range d.entries {
		out = append(out, v)
	}
	return out
}
