package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/headlink/limits"
	"github.com/sirupsen/logrus"
)

// ChannelState is the lifecycle state of a UDPChannel.
type ChannelState int32

const (
	// StateStarting means the listener has not bound its socket yet.
	StateStarting ChannelState = iota
	// StateListening means the socket is bound and receiving.
	StateListening
	// StateRestarting means the listener failed and is waiting to rebind.
	StateRestarting
	// StateStopped is terminal: Close was called.
	StateStopped
	// StateFailed is terminal: the restart budget ran out.
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// readPollInterval bounds each blocking read so the listener observes
// cancellation without closing the socket underneath it.
const readPollInterval = 100 * time.Millisecond

// ReceiveFunc is notified with the text of every datagram a channel receives.
type ReceiveFunc func(text string)

// UDPChannel is a send/listen datagram endpoint paired with one peer. It
// listens on ListenPort and sends to SendPort on the same host.
type UDPChannel struct {
	host       string
	listenPort int
	sendPort   int
	policy     RestartPolicy
	clock      clock.Clock
	metrics    *Metrics
	rng        *rand.Rand
	run        func() listenResult

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
	failed chan struct{}

	state     atomic.Int32
	restarts  atomic.Int64
	readyOnce sync.Once

	mu          sync.RWMutex
	subscribers map[uint64]ReceiveFunc
	nextSub     uint64
	localAddr   net.Addr
	err         error
}

type channelOptions struct {
	host    string
	policy  RestartPolicy
	clock   clock.Clock
	metrics *Metrics
	listen  func() listenResult
}

// ChannelOption configures a UDPChannel.
type ChannelOption func(*channelOptions)

// WithHost sets the host both ends use. It defaults to 127.0.0.1.
func WithHost(host string) ChannelOption {
	return func(o *channelOptions) {
		o.host = host
	}
}

// WithRestartPolicy replaces DefaultRestartPolicy.
func WithRestartPolicy(p RestartPolicy) ChannelOption {
	return func(o *channelOptions) {
		o.policy = p
	}
}

// WithClock sets the clock used to time restart delays.
func WithClock(c clock.Clock) ChannelOption {
	return func(o *channelOptions) {
		o.clock = c
	}
}

// WithChannelMetrics records datagram and restart counts on m.
func WithChannelMetrics(m *Metrics) ChannelOption {
	return func(o *channelOptions) {
		o.metrics = m
	}
}

// NewUDPChannel starts a channel listening on listenPort and sending to
// sendPort. The listener runs in the background; datagrams that arrive before
// it has bound are lost. Use Ready to wait for the first bind.
func NewUDPChannel(listenPort, sendPort int, opts ...ChannelOption) *UDPChannel {
	o := channelOptions{
		host:   "127.0.0.1",
		policy: DefaultRestartPolicy(),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &UDPChannel{
		host:        o.host,
		listenPort:  listenPort,
		sendPort:    sendPort,
		policy:      o.policy,
		clock:       o.clock,
		metrics:     o.metrics,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		ready:       make(chan struct{}),
		failed:      make(chan struct{}),
		subscribers: make(map[uint64]ReceiveFunc),
		run:         o.listen,
	}
	if c.run == nil {
		c.run = c.listen
	}
	c.state.Store(int32(StateStarting))

	go c.supervise()

	return c
}

// ListenPort returns the configured listen port.
func (c *UDPChannel) ListenPort() int { return c.listenPort }

// SendPort returns the peer port datagrams are sent to.
func (c *UDPChannel) SendPort() int { return c.sendPort }

// State returns the current lifecycle state.
func (c *UDPChannel) State() ChannelState {
	return ChannelState(c.state.Load())
}

// Restarts returns how many times the listener has been restarted.
func (c *UDPChannel) Restarts() int64 {
	return c.restarts.Load()
}

// Ready is closed once the listener has bound its socket for the first time.
func (c *UDPChannel) Ready() <-chan struct{} {
	return c.ready
}

// Failed is closed when the channel gives up restarting.
func (c *UDPChannel) Failed() <-chan struct{} {
	return c.failed
}

// Done is closed when the listener has exited for good.
func (c *UDPChannel) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure cause once the channel is in StateFailed, and nil
// otherwise.
func (c *UDPChannel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// LocalAddr returns the address of the currently bound socket, or nil.
func (c *UDPChannel) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localAddr
}

// Subscribe registers fn for every received datagram. Subscribers run on the
// listener goroutine and must not block. The returned func unsubscribes.
func (c *UDPChannel) Subscribe(fn ReceiveFunc) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Send sends text to the peer.
func (c *UDPChannel) Send(text string) error {
	return c.SendBytes([]byte(text))
}

// SendBytes sends payload to the peer over a short-lived socket. Delivery is
// not confirmed and nothing is retried.
func (c *UDPChannel) SendBytes(payload []byte) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	if err := limits.ValidateDatagram(payload); err != nil {
		return err
	}

	conn, err := net.Dial("udp", net.JoinHostPort(c.host, strconv.Itoa(c.sendPort)))
	if err != nil {
		return fmt.Errorf("dial udp peer: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	c.metrics.datagramSent()
	return nil
}

// Close cancels the listener and waits for it to exit. It is safe to call more
// than once.
func (c *UDPChannel) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// listenResult describes how one listener run ended.
type listenResult struct {
	err      error
	bound    bool
	received bool
}

// supervise runs listener tasks until cancellation or until the restart budget
// is spent. Each run binds a fresh socket on a new goroutine.
func (c *UDPChannel) supervise() {
	defer close(c.done)

	attempt := 0
	for {
		started := c.clock.Now()
		results := make(chan listenResult, 1)
		go func() {
			results <- c.run()
		}()
		res := <-results

		if c.ctx.Err() != nil {
			c.stop()
			return
		}

		if res.received || (res.bound && c.policy.Healthy(c.clock.Since(started))) {
			attempt = 0
		}
		attempt++

		if c.policy.Exhausted(attempt) {
			c.fail(res.err, attempt-1)
			return
		}

		delay := c.policy.Delay(attempt, c.rng)
		c.state.Store(int32(StateRestarting))
		c.restarts.Add(1)
		c.metrics.listenerRestarted()
		logrus.WithFields(logrus.Fields{
			"function":    "supervise",
			"package":     "transport",
			"listen_port": c.listenPort,
			"attempt":     attempt,
			"delay":       delay.String(),
			"error":       res.err.Error(),
		}).Warn("UDP listener failed, restarting")

		if delay <= 0 {
			continue
		}
		timer := c.clock.Timer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.stop()
			return
		case <-timer.C:
		}
	}
}

// listen binds the socket and receives until cancellation or a read error.
func (c *UDPChannel) listen() (res listenResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	conn, err := net.ListenPacket("udp", net.JoinHostPort(c.host, strconv.Itoa(c.listenPort)))
	if err != nil {
		return listenResult{err: fmt.Errorf("bind udp %d: %w", c.listenPort, err)}
	}
	defer conn.Close()
	res.bound = true

	c.mu.Lock()
	c.localAddr = conn.LocalAddr()
	c.mu.Unlock()
	c.state.Store(int32(StateListening))
	c.readyOnce.Do(func() { close(c.ready) })

	logrus.WithFields(logrus.Fields{
		"function":    "listen",
		"package":     "transport",
		"local_addr":  conn.LocalAddr().String(),
		"listen_port": c.listenPort,
		"send_port":   c.sendPort,
	}).Debug("UDP listener bound")

	buffer := make([]byte, limits.MaxReceiveBuffer)
	for {
		if c.ctx.Err() != nil {
			return res
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if c.ctx.Err() != nil {
				return res
			}
			res.err = fmt.Errorf("receive: %w", err)
			return res
		}

		res.received = true
		c.metrics.datagramReceived()
		c.deliver(string(buffer[:n]), addr)
	}
}

// deliver notifies every subscriber. A panicking subscriber is logged and does
// not stop delivery to the others.
func (c *UDPChannel) deliver(text string, from net.Addr) {
	c.mu.RLock()
	subs := make([]ReceiveFunc, 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function":    "deliver",
		"package":     "transport",
		"from":        from.String(),
		"size":        len(text),
		"subscribers": len(subs),
	}).Debug("Datagram received")

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"function": "deliver",
						"package":  "transport",
						"panic":    fmt.Sprint(r),
					}).Warn("UDP subscriber panicked")
				}
			}()
			fn(text)
		}()
	}
}

func (c *UDPChannel) stop() {
	c.state.Store(int32(StateStopped))
	logrus.WithFields(logrus.Fields{
		"function":    "stop",
		"package":     "transport",
		"listen_port": c.listenPort,
	}).Debug("UDP channel stopped")
}

func (c *UDPChannel) fail(last error, restarts int) {
	err := fmt.Errorf("%w after %d restarts: %v", ErrChannelFailed, restarts, last)

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.state.Store(int32(StateFailed))
	c.metrics.channelFailed()
	close(c.failed)

	logrus.WithFields(logrus.Fields{
		"function":    "fail",
		"package":     "transport",
		"listen_port": c.listenPort,
		"restarts":    restarts,
		"error":       last.Error(),
	}).Error("UDP channel gave up restarting; datagrams to this port are dropped")
}
