package fabric

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortPoolValidation(t *testing.T) {
	tests := []struct {
		name    string
		start   int
		end     int
		wantErr bool
	}{
		{"valid range", 40000, 40999, false},
		{"single port", 40000, 40000, false},
		{"privileged start", 80, 1000, true},
		{"end beyond max", 65000, 70000, true},
		{"inverted range", 41000, 40000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortPool(tt.start, tt.end, "127.0.0.1")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPortRange)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPortPoolAcquireRelease(t *testing.T) {
	start := freePortRange(t)
	pool, err := NewPortPool(start, start+3, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Size())

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		port, err := pool.Acquire()
		if err != nil {
			// Another process grabbed a port in the range.
			assert.ErrorIs(t, err, ErrNoFreePorts)
			break
		}
		assert.False(t, seen[port], "port %d leased twice", port)
		assert.GreaterOrEqual(t, port, start)
		assert.LessOrEqual(t, port, start+3)
		seen[port] = true
	}
	assert.Equal(t, len(seen), pool.InUse())

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrNoFreePorts)

	for port := range seen {
		pool.Release(port)
	}
	assert.Zero(t, pool.InUse())
	pool.Release(start) // already released
}

func TestPortPoolSkipsBoundPorts(t *testing.T) {
	start := freePortRange(t)
	busy, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(start)))
	if err != nil {
		t.Skipf("could not bind %d: %v", start, err)
	}
	defer busy.Close()

	pool, err := NewPortPool(start, start+1, "127.0.0.1")
	require.NoError(t, err)

	port, err := pool.Acquire()
	if err != nil {
		t.Skipf("second port in range unavailable: %v", err)
	}
	assert.Equal(t, start+1, port)
}
