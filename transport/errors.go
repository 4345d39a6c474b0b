package transport

import "errors"

var (
	// ErrChannelClosed is returned when sending on a channel after Close.
	ErrChannelClosed = errors.New("udp channel closed")

	// ErrChannelFailed is the cause recorded when a channel exhausts its
	// restart budget. Err wraps it together with the last listener error.
	ErrChannelFailed = errors.New("udp channel failed")
)
