package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/headlink/address"
	"github.com/opd-ai/headlink/crypto"
	"github.com/opd-ai/headlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// DefaultReadyTimeout bounds how long Pair waits for a new channel to bind.
const DefaultReadyTimeout = 2 * time.Second

// Inbox receives every datagram a paired head sends to its session.
type Inbox func(from address.Address[uint64], text string)

// Service pairs remote heads with UDP channels and serves the fabric routes.
type Service struct {
	scope        *address.Scope
	ports        *PortPool
	sessions     *address.Directory[*Session]
	archive      *crypto.SecretArchive
	gatherer     prometheus.Gatherer
	metrics      *Metrics
	inbox        Inbox
	channelOpts  []transport.ChannelOption
	readyTimeout time.Duration
	started      time.Time

	mu     sync.Mutex
	closed bool
}

type serviceOptions struct {
	archive      *crypto.SecretArchive
	gatherer     prometheus.Gatherer
	metrics      *Metrics
	inbox        Inbox
	channelOpts  []transport.ChannelOption
	readyTimeout time.Duration
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithArchive enables the /secrets routes backed by a.
func WithArchive(a *crypto.SecretArchive) Option {
	return func(o *serviceOptions) {
		o.archive = a
	}
}

// WithGatherer enables GET /metrics, rendering everything g gathers.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *serviceOptions) {
		o.gatherer = g
	}
}

// WithMetrics records session counts on m.
func WithMetrics(m *Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithInbox forwards received datagrams to fn.
func WithInbox(fn Inbox) Option {
	return func(o *serviceOptions) {
		o.inbox = fn
	}
}

// WithChannelOptions applies opts to every UDP channel the service creates.
func WithChannelOptions(opts ...transport.ChannelOption) Option {
	return func(o *serviceOptions) {
		o.channelOpts = append(o.channelOpts, opts...)
	}
}

// WithReadyTimeout overrides DefaultReadyTimeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.readyTimeout = d
	}
}

// NewService creates a service that allocates session addresses from scope
// and listen ports from ports.
func NewService(scope *address.Scope, ports *PortPool, opts ...Option) (*Service, error) {
	if scope == nil || ports == nil {
		return nil, errors.New("fabric service requires an address scope and a port pool")
	}

	o := serviceOptions{readyTimeout: DefaultReadyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		scope:        scope,
		ports:        ports,
		sessions:     address.NewDirectory[*Session](),
		archive:      o.archive,
		gatherer:     o.gatherer,
		metrics:      o.metrics,
		inbox:        o.inbox,
		channelOpts:  o.channelOpts,
		readyTimeout: o.readyTimeout,
		started:      time.Now(),
	}, nil
}

// Pair creates a session whose channel sends to peerPort. It waits for the
// channel to bind, up to the ready timeout or until ctx ends; a channel still
// binding after that is returned anyway and keeps retrying in the background.
func (s *Service) Pair(ctx context.Context, peerPort int) (*Session, error) {
	if peerPort < 1 || peerPort > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeerPort, peerPort)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrServiceClosed
	}

	listenPort, err := s.ports.Acquire()
	if err != nil {
		return nil, err
	}

	channel := transport.NewUDPChannel(listenPort, peerPort, s.channelOpts...)
	session := &Session{channel: channel, created: time.Now()}

	handle, err := s.scope.Acquire(func() error {
		return s.retire(session)
	})
	if err != nil {
		_ = channel.Close()
		s.ports.Release(listenPort)
		return nil, fmt.Errorf("pair: %w", err)
	}
	session.Handle = handle
	session.unsubscribe = channel.Subscribe(func(text string) {
		s.receive(session, text)
	})

	if err := s.sessions.Put(session); err != nil {
		_ = handle.Exit()
		return nil, fmt.Errorf("pair: %w", err)
	}
	s.metrics.sessionOpened()

	log := logrus.WithFields(logrus.Fields{
		"function":    "Pair",
		"package":     "fabric",
		"address":     handle.Address().String(),
		"listen_port": listenPort,
		"send_port":   peerPort,
	})

	if err := s.awaitReady(ctx, channel); err != nil {
		_ = session.Exit()
		return nil, fmt.Errorf("pair: %w", err)
	}

	log.Info("Session paired")
	return session, nil
}

func (s *Service) awaitReady(ctx context.Context, channel *transport.UDPChannel) error {
	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	select {
	case <-channel.Ready():
		return nil
	case <-channel.Failed():
		return channel.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		logrus.WithFields(logrus.Fields{
			"function":    "awaitReady",
			"package":     "fabric",
			"listen_port": channel.ListenPort(),
			"timeout":     s.readyTimeout.String(),
		}).Warn("UDP channel not bound yet, continuing")
		return nil
	}
}

// Session looks up a live session.
func (s *Service) Session(addr address.Address[uint64]) (*Session, error) {
	session, ok := s.sessions.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, addr)
	}
	return session, nil
}

// Sessions returns every live session.
func (s *Service) Sessions() []*Session {
	return s.sessions.Snapshot()
}

// Push sends payload to the head paired with addr.
func (s *Service) Push(addr address.Address[uint64], payload []byte) error {
	session, err := s.Session(addr)
	if err != nil {
		return err
	}
	if err := session.channel.SendBytes(payload); err != nil {
		return err
	}
	s.metrics.pushed()
	return nil
}

// Remove exits the session with addr.
func (s *Service) Remove(addr address.Address[uint64]) error {
	session, err := s.Session(addr)
	if err != nil {
		return err
	}
	if err := session.Exit(); err != nil && !errors.Is(err, address.ErrAlreadyExited) {
		return err
	}
	return nil
}

// Health reports service status.
func (s *Service) Health() Health {
	return Health{
		Status:             "ok",
		Uptime:             time.Since(s.started).Round(time.Second).String(),
		Sessions:           s.sessions.Len(),
		PortsInUse:         s.ports.InUse(),
		PortsTotal:         s.ports.Size(),
		AddressesAllocated: s.scope.Provider().TotalAllocated(),
		ArchiveEnabled:     s.archive != nil,
	}
}

// Health is the body of GET /health.
type Health struct {
	Status             string `json:"status"`
	Uptime             string `json:"uptime"`
	Sessions           int    `json:"sessions"`
	PortsInUse         int    `json:"ports_in_use"`
	PortsTotal         int    `json:"ports_total"`
	AddressesAllocated uint64 `json:"addresses_allocated"`
	ArchiveEnabled     bool   `json:"archive_enabled"`
}

// Close exits every session and refuses further pairing.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs error
	sessions := s.sessions.Snapshot()
	for _, session := range sessions {
		if err := session.Exit(); err != nil && !errors.Is(err, address.ErrAlreadyExited) {
			errs = multierr.Append(errs, fmt.Errorf("exit %s: %w", session.Address(), err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"package":  "fabric",
		"sessions": len(sessions),
	}).Info("Fabric service closed")
	return errs
}

// retire is the session exit function: it stops the channel, releases the
// port and drops the session from the directory.
func (s *Service) retire(session *Session) error {
	if session.unsubscribe != nil {
		session.unsubscribe()
	}
	err := session.channel.Close()
	s.ports.Release(session.channel.ListenPort())
	if session.Handle != nil {
		if stored, ok := s.sessions.Get(session.Address()); ok && stored == session {
			s.sessions.Remove(session.Address())
			s.metrics.sessionClosed()
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "retire",
		"package":     "fabric",
		"listen_port": session.channel.ListenPort(),
	}).Info("Session exited")
	return err
}

func (s *Service) receive(session *Session, text string) {
	s.metrics.received()
	logrus.WithFields(logrus.Fields{
		"function": "receive",
		"package":  "fabric",
		"address":  session.Address().String(),
		"size":     len(text),
	}).Debug("Datagram from head")

	if s.inbox != nil {
		s.inbox(session.Address(), text)
	}
}
