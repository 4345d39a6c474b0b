// Package limits centralises the size limits enforced by the transport layer.
//
//   - MaxDatagramSize (65507 bytes): the largest UDP payload over IPv4. Channel
//     sends above it are rejected before touching the network.
//   - MaxReceiveBuffer: the receive buffer used by UDP listeners.
//   - MaxRequestHeader (64 KiB): request line plus headers accepted by the
//     connection provider.
//   - MaxRequestBody (1 MiB): request bodies above it are answered with 413.
//
// The validation helpers return ErrMessageEmpty or a wrapped ErrMessageTooLarge
// carrying the actual and allowed sizes:
//
//	if err := limits.ValidateDatagram(payload); err != nil {
//	    return err
//	}
package limits
