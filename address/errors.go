package address

import "errors"

var (
	// ErrAddressSpaceExhausted is returned once a provider's counter has reached
	// its maximum. The provider refuses every later allocation.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")

	// ErrAlreadyExited is returned by Handle.Exit on every call after the first.
	ErrAlreadyExited = errors.New("addressable already exited")

	// ErrNotExited marks handles that were still live when their scope closed.
	ErrNotExited = errors.New("addressable was never exited")

	// ErrScopeClosed is returned when acquiring from a closed scope.
	ErrScopeClosed = errors.New("address scope closed")

	// ErrDuplicateAddress is returned when a directory already holds an entry
	// for the address being inserted.
	ErrDuplicateAddress = errors.New("duplicate address")

	// ErrInvalidAddress is returned when parsing text that does not decode to an
	// address of the expected width.
	ErrInvalidAddress = errors.New("invalid address")
)
