package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/headlink/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// acceptPollInterval bounds each blocking accept so the loop observes
	// cancellation.
	acceptPollInterval = 100 * time.Millisecond

	maxAcceptDelay = time.Second

	// bodyReadTimeout bounds reading one request body.
	bodyReadTimeout = 30 * time.Second
	// writeTimeout bounds writing one response.
	writeTimeout = 30 * time.Second
)

// ConnectionProvider is a TCP server speaking a minimal HTTP/1.x
// request/response protocol. Each request is handed to a single Handler.
type ConnectionProvider struct {
	listener    net.Listener
	handler     Handler
	idleTimeout time.Duration
	metrics     *Metrics

	ctx           context.Context
	cancel        context.CancelFunc
	handlerCtx    context.Context
	handlerCancel context.CancelFunc
	group         errgroup.Group

	mu      sync.Mutex
	conns   map[*serverConn]struct{}
	closing bool

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

type serverConn struct {
	conn net.Conn
	id   string
	idle bool
}

type serverOptions struct {
	host        string
	idleTimeout time.Duration
	metrics     *Metrics
}

// ServerOption configures a ConnectionProvider.
type ServerOption func(*serverOptions)

// WithListenHost sets the interface to bind. It defaults to all interfaces.
func WithListenHost(host string) ServerOption {
	return func(o *serverOptions) {
		o.host = host
	}
}

// WithIdleTimeout closes keep-alive connections idle for longer than d. Zero
// or a negative d disables the idle timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.idleTimeout = d
	}
}

// WithServerMetrics records request and connection counts on m.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}

// NewConnectionProvider binds port and starts accepting connections. Port 0
// picks an ephemeral port; Addr reports the bound address.
func NewConnectionProvider(port int, handler Handler, opts ...ServerOption) (*ConnectionProvider, error) {
	if handler == nil {
		return nil, errors.New("connection provider requires a handler")
	}

	o := serverOptions{idleTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(o.host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen tcp %d: %w", port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handlerCtx, handlerCancel := context.WithCancel(context.Background())

	s := &ConnectionProvider{
		listener:      listener,
		handler:       handler,
		idleTimeout:   o.idleTimeout,
		metrics:       o.metrics,
		ctx:           ctx,
		cancel:        cancel,
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
		conns:         make(map[*serverConn]struct{}),
		done:          make(chan struct{}),
	}

	s.group.Go(s.acceptConnections)
	go func() {
		s.err = s.group.Wait()
		_ = s.listener.Close()
		s.handlerCancel()
		close(s.done)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "NewConnectionProvider",
		"package":  "transport",
		"addr":     listener.Addr().String(),
	}).Info("Connection provider listening")

	return s, nil
}

// Addr returns the listening address.
func (s *ConnectionProvider) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *ConnectionProvider) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// SignalCloseServer begins a graceful shutdown: no new connections are
// accepted, in-flight requests finish and idle connections are closed. The
// listening socket is released after the last connection has ended. The
// returned channel yields the shutdown result once everything has stopped and
// the port is released, then is closed.
func (s *ConnectionProvider) SignalCloseServer() <-chan error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		for c := range s.conns {
			if c.idle {
				// Unblock the pending read; the connection loop exits on its own.
				_ = c.conn.SetReadDeadline(time.Now())
			}
		}
		s.mu.Unlock()
		s.cancel()

		logrus.WithFields(logrus.Fields{
			"function": "SignalCloseServer",
			"package":  "transport",
			"addr":     s.listener.Addr().String(),
		}).Info("Connection provider shutting down")
	})

	result := make(chan error, 1)
	go func() {
		<-s.done
		result <- s.err
		close(result)
	}()
	return result
}

// Shutdown signals close and waits for it. If ctx ends first, remaining
// connections are closed forcibly and ctx's error is returned.
func (s *ConnectionProvider) Shutdown(ctx context.Context) error {
	result := s.SignalCloseServer()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		s.forceClose()
		<-s.done
		return ctx.Err()
	}
}

// Done is closed once shutdown has completed.
func (s *ConnectionProvider) Done() <-chan struct{} {
	return s.done
}

func (s *ConnectionProvider) forceClose() {
	s.handlerCancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.conn.Close()
	}
}

// acceptConnections accepts until cancellation. A failing accept never stops
// the loop unless the listener itself was closed.
func (s *ConnectionProvider) acceptConnections() error {
	type deadliner interface {
		SetDeadline(time.Time) error
	}

	var delay time.Duration
	for {
		if s.ctx.Err() != nil {
			return nil
		}
		if dl, ok := s.listener.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptConnections",
				"package":  "transport",
				"error":    err.Error(),
				"retry_in": delay.String(),
			}).Warn("Accept failed")

			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		c := &serverConn{conn: conn, id: uuid.NewString()}
		if !s.track(c) {
			conn.Close()
			return nil
		}
		s.group.Go(func() error {
			s.handleConnection(c)
			return nil
		})
	}
}

func (s *ConnectionProvider) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.metrics.connOpened()
	return true
}

func (s *ConnectionProvider) untrack(c *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	s.metrics.connClosed()
}

// markIdle flags c as waiting for its next request and arms the idle timeout.
// It returns false when the server is closing and c should be dropped.
func (s *ConnectionProvider) markIdle(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	c.idle = true
	_ = c.conn.SetReadDeadline(deadline(s.idleTimeout))
	return true
}

func (s *ConnectionProvider) markActive(c *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.idle = false
	_ = c.conn.SetReadDeadline(time.Time{})
}

// deadline returns the absolute deadline d from now, or the zero time when d
// disables it.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (s *ConnectionProvider) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// handleConnection serves requests on one connection until the peer closes
// it, keep-alive ends, or the server shuts down.
func (s *ConnectionProvider) handleConnection(c *serverConn) {
	defer s.untrack(c)
	defer c.conn.Close()

	log := logrus.WithFields(logrus.Fields{
		"package": "transport",
		"conn_id": c.id,
		"remote":  c.conn.RemoteAddr().String(),
	})
	log.WithField("function", "handleConnection").Debug("Connection accepted")

	limited := &io.LimitedReader{R: c.conn, N: limits.MaxRequestHeader}
	reader := bufio.NewReader(limited)
	writer := bufio.NewWriter(c.conn)

	for {
		if !s.markIdle(c) {
			return
		}

		limited.N = limits.MaxRequestHeader
		httpReq, err := http.ReadRequest(reader)
		s.markActive(c)
		if err != nil {
			s.handleReadError(c, writer, limited, err, log)
			return
		}
		limited.N = math.MaxInt64

		req, early := s.decodeRequest(c, httpReq)
		resp := early
		if req != nil {
			resp = s.invoke(req, log)
		}

		keepAlive := req != nil && !httpReq.Close && !s.isClosing()
		s.metrics.requestServed(resp.status())
		_ = c.conn.SetWriteDeadline(deadline(writeTimeout))
		if err := writeResponse(writer, resp, httpReq.Method, keepAlive); err != nil {
			log.WithFields(logrus.Fields{
				"function": "handleConnection",
				"error":    err.Error(),
			}).Warn("Failed to write response")
			return
		}

		log.WithFields(logrus.Fields{
			"function": "handleConnection",
			"method":   httpReq.Method,
			"path":     httpReq.URL.Path,
			"status":   resp.status(),
		}).Debug("Request served")

		if !keepAlive {
			return
		}
	}
}

// handleReadError answers unreadable requests where a reply still makes sense.
func (s *ConnectionProvider) handleReadError(c *serverConn, w *bufio.Writer, limited *io.LimitedReader, err error, log *logrus.Entry) {
	var netErr net.Error
	switch {
	case limited.N <= 0:
		log.WithField("function", "handleReadError").Warn("Request header too large")
		s.metrics.requestServed(http.StatusRequestHeaderFieldsTooLarge)
		_ = writeResponse(w, Error(http.StatusRequestHeaderFieldsTooLarge, "request header too large"), "", false)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		return
	default:
		log.WithFields(logrus.Fields{
			"function": "handleReadError",
			"error":    err.Error(),
		}).Warn("Malformed request")
		s.metrics.requestServed(http.StatusBadRequest)
		_ = writeResponse(w, Error(http.StatusBadRequest, "malformed request"), "", false)
	}
}

// decodeRequest reads the body and builds a Request. When the request cannot
// be served it returns nil and the response to send instead; the caller then
// closes the connection. A rejected body is left unread: closing a body from
// http.ReadRequest drains it.
func (s *ConnectionProvider) decodeRequest(c *serverConn, httpReq *http.Request) (*Request, Response) {
	if err := limits.ValidateRequestBody(httpReq.ContentLength); err != nil {
		return nil, Error(http.StatusRequestEntityTooLarge, err.Error())
	}

	_ = c.conn.SetReadDeadline(deadline(bodyReadTimeout))
	body, err := io.ReadAll(io.LimitReader(httpReq.Body, limits.MaxRequestBody+1))
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, Error(http.StatusBadRequest, "unreadable body")
	}
	if err := limits.ValidateRequestBody(int64(len(body))); err != nil {
		return nil, Error(http.StatusRequestEntityTooLarge, err.Error())
	}
	// The body is at EOF here, so Close reads nothing more.
	_ = httpReq.Body.Close()

	return &Request{
		Method:     httpReq.Method,
		Path:       httpReq.URL.Path,
		Query:      httpReq.URL.Query(),
		Proto:      httpReq.Proto,
		Header:     httpReq.Header,
		Body:       body,
		RemoteAddr: c.conn.RemoteAddr().String(),
		ConnID:     c.id,
	}, Response{}
}

// invoke runs the handler, turning a panic into a 500.
func (s *ConnectionProvider) invoke(req *Request, log *logrus.Entry) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"function": "invoke",
				"path":     req.Path,
				"panic":    fmt.Sprint(r),
			}).Error("Handler panicked")
			resp = Error(http.StatusInternalServerError, "internal error")
		}
	}()
	return s.handler.ServeRequest(s.handlerCtx, req)
}
