package transport

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/headlink/limits"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReady(t *testing.T, ch *UDPChannel) {
	t.Helper()
	select {
	case <-ch.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("channel on port %d never bound", ch.ListenPort())
	}
}

// TestUDPChannelLoopback verifies a paired channel receives exactly one
// notification carrying the original text.
func TestUDPChannelLoopback(t *testing.T) {
	portA, portB := freeUDPPort(t), freeUDPPort(t)
	metrics := NewMetrics(nil)

	a := NewUDPChannel(portA, portB, WithChannelMetrics(metrics))
	defer a.Close()
	b := NewUDPChannel(portB, portA, WithChannelMetrics(metrics))
	defer b.Close()
	waitReady(t, a)
	waitReady(t, b)
	assert.Equal(t, StateListening, b.State())

	received := make(chan string, 4)
	b.Subscribe(func(text string) { received <- text })

	require.NoError(t, a.Send("hello, head"))

	select {
	case got := <-received:
		assert.Equal(t, "hello, head", got)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
	select {
	case extra := <-received:
		t.Fatalf("unexpected second notification %q", extra)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DatagramsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DatagramsReceived))
}

func TestUDPChannelBidirectional(t *testing.T) {
	portA, portB := freeUDPPort(t), freeUDPPort(t)
	a := NewUDPChannel(portA, portB)
	defer a.Close()
	b := NewUDPChannel(portB, portA)
	defer b.Close()
	waitReady(t, a)
	waitReady(t, b)

	fromB := make(chan string, 1)
	a.Subscribe(func(text string) { fromB <- text })
	require.NoError(t, b.SendBytes([]byte("pong")))

	select {
	case got := <-fromB:
		assert.Equal(t, "pong", got)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
}

func TestUDPChannelUnsubscribe(t *testing.T) {
	port := freeUDPPort(t)
	ch := NewUDPChannel(port, port)
	defer ch.Close()
	waitReady(t, ch)

	var mu sync.Mutex
	var first, second []string
	unsubscribe := ch.Subscribe(func(text string) {
		mu.Lock()
		first = append(first, text)
		mu.Unlock()
	})
	got := make(chan struct{}, 4)
	ch.Subscribe(func(text string) {
		mu.Lock()
		second = append(second, text)
		mu.Unlock()
		got <- struct{}{}
	})

	require.NoError(t, ch.Send("one"))
	<-got
	unsubscribe()
	require.NoError(t, ch.Send("two"))
	<-got

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one"}, first)
	assert.Equal(t, []string{"one", "two"}, second)
}

// TestUDPChannelSubscriberPanic verifies a panicking subscriber neither stops
// delivery nor restarts the listener.
func TestUDPChannelSubscriberPanic(t *testing.T) {
	port := freeUDPPort(t)
	ch := NewUDPChannel(port, port)
	defer ch.Close()
	waitReady(t, ch)

	ch.Subscribe(func(string) { panic("boom") })
	got := make(chan string, 2)
	ch.Subscribe(func(text string) { got <- text })

	require.NoError(t, ch.Send("first"))
	require.NoError(t, ch.Send("second"))
	for _, want := range []string{"first", "second"} {
		select {
		case text := <-got:
			assert.Equal(t, want, text)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing %q", want)
		}
	}
	assert.Zero(t, ch.Restarts())
}

func TestUDPChannelSendValidation(t *testing.T) {
	port := freeUDPPort(t)
	ch := NewUDPChannel(port, port)

	assert.ErrorIs(t, ch.SendBytes(nil), limits.ErrMessageEmpty)
	assert.ErrorIs(t, ch.Send(strings.Repeat("x", limits.MaxDatagramSize+1)), limits.ErrMessageTooLarge)

	require.NoError(t, ch.Close())
	assert.Equal(t, StateStopped, ch.State())
	assert.ErrorIs(t, ch.Send("late"), ErrChannelClosed)
	require.NoError(t, ch.Close())
}

// TestUDPChannelFailsAfterRestartCeiling verifies a permanently unavailable
// port drives the channel into StateFailed instead of retrying forever.
func TestUDPChannelFailsAfterRestartCeiling(t *testing.T) {
	blocker, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.LocalAddr().(*net.UDPAddr).Port

	mock := clock.NewMock()
	metrics := NewMetrics(nil)
	ch := NewUDPChannel(port, port,
		WithClock(mock),
		WithChannelMetrics(metrics),
		WithRestartPolicy(RestartPolicy{
			InitialDelay: time.Second,
			Multiplier:   2,
			MaxDelay:     4 * time.Second,
			MaxRestarts:  3,
		}))
	defer ch.Close()

	require.Eventually(t, func() bool {
		mock.Add(5 * time.Second)
		return ch.State() == StateFailed
	}, 5*time.Second, 5*time.Millisecond)

	select {
	case <-ch.Failed():
	default:
		t.Fatal("Failed channel not closed")
	}
	<-ch.Done()
	assert.ErrorIs(t, ch.Err(), ErrChannelFailed)
	assert.Equal(t, int64(3), ch.Restarts())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ListenerRestarts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChannelFailures))

	// Closing a failed channel is harmless.
	require.NoError(t, ch.Close())
}

// TestUDPChannelHealthyRunResetsRestartCount verifies that listener runs
// which stayed bound for the healthy period do not count towards the restart
// ceiling, while back-to-back failures do.
func TestUDPChannelHealthyRunResetsRestartCount(t *testing.T) {
	const maxRestarts = 3
	errReceive := errors.New("receive: connection refused")

	tests := []struct {
		name        string
		healthyRuns int32
		wantRuns    int32
	}{
		{name: "only quick failures", healthyRuns: 0, wantRuns: maxRestarts + 1},
		// Each healthy run starts the count over at one.
		{name: "healthy runs first", healthyRuns: 5, wantRuns: 5 + maxRestarts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			var runs atomic.Int32
			ch := NewUDPChannel(freeUDPPort(t), freeUDPPort(t),
				WithClock(mock),
				WithRestartPolicy(RestartPolicy{
					MaxRestarts:   maxRestarts,
					HealthyPeriod: time.Second,
				}),
				withListenFunc(func() listenResult {
					if runs.Add(1) <= tt.healthyRuns {
						mock.Add(2 * time.Second)
					}
					return listenResult{err: errReceive, bound: true}
				}))
			defer ch.Close()

			select {
			case <-ch.Failed():
			case <-time.After(5 * time.Second):
				t.Fatal("channel never reached StateFailed")
			}
			<-ch.Done()

			assert.Equal(t, tt.wantRuns, runs.Load())
			assert.Equal(t, StateFailed, ch.State())
			assert.ErrorIs(t, ch.Err(), ErrChannelFailed)
		})
	}
}

// TestUDPChannelRecoversWhenPortFrees verifies the supervisor rebinds once the
// blocking socket goes away.
func TestUDPChannelRecoversWhenPortFrees(t *testing.T) {
	blocker, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := blocker.LocalAddr().(*net.UDPAddr).Port

	mock := clock.NewMock()
	ch := NewUDPChannel(port, port,
		WithClock(mock),
		WithRestartPolicy(RestartPolicy{InitialDelay: time.Second, Multiplier: 1}))
	defer ch.Close()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return ch.Restarts() >= 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.NoError(t, ch.Err())

	require.NoError(t, blocker.Close())
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return ch.State() == StateListening
	}, 5*time.Second, 5*time.Millisecond)

	got := make(chan string, 1)
	ch.Subscribe(func(text string) { got <- text })
	require.NoError(t, ch.Send("back"))
	select {
	case text := <-got:
		assert.Equal(t, "back", text)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received after recovery")
	}
}

func TestUDPChannelCloseWhileRestarting(t *testing.T) {
	blocker, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.LocalAddr().(*net.UDPAddr).Port

	ch := NewUDPChannel(port, port,
		WithClock(clock.NewMock()),
		WithRestartPolicy(RestartPolicy{InitialDelay: time.Hour}))

	require.Eventually(t, func() bool {
		return ch.State() == StateRestarting
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, ch.Close())
	assert.Equal(t, StateStopped, ch.State())
}

func TestChannelStateString(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", ChannelState(42).String())
}
