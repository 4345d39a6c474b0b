package fabric

import "errors"

var (
	// ErrNoFreePorts is returned when every port in the pool is leased or
	// held by another process.
	ErrNoFreePorts = errors.New("no free UDP ports")

	// ErrInvalidPortRange is returned for a pool range outside 1024..65535 or
	// with start after end.
	ErrInvalidPortRange = errors.New("invalid port range")

	// ErrSessionNotFound is returned when no live session has the address.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPeerPort is returned for a peer port outside 1..65535.
	ErrInvalidPeerPort = errors.New("invalid peer port")

	// ErrServiceClosed is returned by Pair after Close.
	ErrServiceClosed = errors.New("service closed")
)
