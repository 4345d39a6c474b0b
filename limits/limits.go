package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest UDP payload that fits an IPv4 datagram
	// (65535 - 8 byte UDP header - 20 byte IP header).
	MaxDatagramSize = 65507

	// MaxReceiveBuffer is the buffer size used to read one datagram.
	MaxReceiveBuffer = MaxDatagramSize

	// MaxRequestHeader bounds the request line and headers of a single request.
	MaxRequestHeader = 64 * 1024

	// MaxRequestBody bounds the body of a single request.
	MaxRequestBody = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDatagram validates a UDP payload against MaxDatagramSize.
func ValidateDatagram(payload []byte) error {
	return ValidateMessageSize(payload, MaxDatagramSize)
}

// ValidateRequestBody validates a declared request body length. Empty bodies
// are allowed.
func ValidateRequestBody(length int64) error {
	if length > MaxRequestBody {
		return fmt.Errorf("%w: body size %d exceeds limit %d", ErrMessageTooLarge, length, MaxRequestBody)
	}
	return nil
}
