package address

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Integer is the set of fixed-size value types an Address can be derived from.
// Platform sized int and uint are excluded so that widths never change between
// builds.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Address is an opaque identifier whose bit width equals the size of T.
// The zero Address is valid but is never produced by a Provider in practice.
type Address[T Integer] struct {
	value T
}

// Width returns the size in bytes of an Address[T].
func Width[T Integer]() int {
	var zero T
	return binary.Size(zero)
}

// FromValue hashes the little-endian bytes of value into an address. The result
// is deterministic and involves no provider state.
func FromValue[T Integer](value T) Address[T] {
	buf := make([]byte, Width[T]())
	putLittleEndian(buf, uint64(value))
	return hashBytes[T](buf)
}

// FromBytes rebuilds an address from its Bytes representation.
func FromBytes[T Integer](b []byte) (Address[T], error) {
	if len(b) != Width[T]() {
		return Address[T]{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAddress, len(b), Width[T]())
	}
	return Address[T]{value: T(littleEndian(b))}, nil
}

// ParseAddress decodes the String form of an address.
func ParseAddress[T Integer](s string) (Address[T], error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address[T]{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FromBytes[T](raw)
}

// Value returns the hashed bit pattern as a T.
func (a Address[T]) Value() T {
	return a.value
}

// Bytes returns the little-endian bit pattern of the address.
func (a Address[T]) Bytes() []byte {
	buf := make([]byte, Width[T]())
	putLittleEndian(buf, uint64(a.value))
	return buf
}

// IsZero reports whether a is the zero Address.
func (a Address[T]) IsZero() bool {
	var zero T
	return a.value == zero
}

// String renders the address in base58.
func (a Address[T]) String() string {
	return base58.Encode(a.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (a Address[T]) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address[T]) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress[T](string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// hashBytes digests data with BLAKE2b sized to the address width.
func hashBytes[T Integer](data []byte) Address[T] {
	h, err := blake2b.New(Width[T](), nil)
	if err != nil {
		// Widths are 1, 2, 4 or 8 bytes, all valid BLAKE2b digest sizes.
		panic(fmt.Sprintf("address: blake2b digest size %d: %v", Width[T](), err))
	}
	h.Write(data)
	return Address[T]{value: T(littleEndian(h.Sum(nil)))}
}

func putLittleEndian(buf []byte, v uint64) {
	for i := range buf {
		if i >= 8 {
			buf[i] = 0
			continue
		}
		buf[i] = byte(v >> (8 * i))
	}
}

func littleEndian(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
