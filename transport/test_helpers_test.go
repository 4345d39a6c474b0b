package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// freeUDPPort returns a loopback UDP port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// withListenFunc replaces the socket listener run by the supervisor.
func withListenFunc(fn func() listenResult) ChannelOption {
	return func(o *channelOptions) {
		o.listen = fn
	}
}
