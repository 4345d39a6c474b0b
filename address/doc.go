// Package address implements the opaque identifier scheme used to reference
// entities across process boundaries.
//
// # Addresses
//
// An [Address] is a fixed-width value whose bit pattern is a hash of some source
// data. The width always equals the natural size of the type parameter, so an
// Address[uint64] carries 8 bytes and an Address[uint16] carries 2:
//
//	a := address.FromValue[uint32](42) // content addressed, deterministic
//	fmt.Println(a)                     // base58 rendering
//
// Addresses carry no ordering. Consumers must not compare them as numbers even
// though allocated addresses derive from a monotonic counter.
//
// # Allocation
//
// A [Provider] mints unique addresses from a 64-bit counter. When randomisation is
// enabled the encoded counter is XORed with a per-provider secret mask before it
// is hashed, so an observer holding a handful of addresses cannot predict the
// next one:
//
//	p, err := address.NewProvider[uint64](address.WithRandomization(true))
//	a, err := p.Get()
//
// Exhausting the counter is fatal for the provider: [ErrAddressSpaceExhausted] is
// returned and the counter never wraps.
//
// # Addressable entities
//
// Entities that must be reachable by address acquire a [Handle] from a [Scope].
// The owner calls [Handle.Exit] exactly once when it retires the entity, and the
// composition root calls [Scope.Close] during shutdown, which reports every handle
// that was never exited.
//
// [Default] returns the lazily created process-wide provider. Library code should
// accept a provider or scope as a parameter instead of reaching for it.
package address
