package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func startProvider(t *testing.T, h Handler, opts ...ServerOption) *ConnectionProvider {
	t.Helper()
	opts = append([]ServerOption{WithListenHost("127.0.0.1")}, opts...)
	srv, err := NewConnectionProvider(0, h, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func shutdown(t *testing.T, srv *ConnectionProvider) {
	t.Helper()
	select {
	case err := <-srv.SignalCloseServer():
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

// TestConnectionProviderEndToEnd verifies one GET invokes the handler once,
// the client sees the handler's status, and shutdown frees the port.
func TestConnectionProviderEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/", req.Path)
		assert.NotEmpty(t, req.ConnID)
		return Text(http.StatusAccepted, "accepted")
	}))

	resp, err := newTestClient().Get(fmt.Sprintf("http://localhost:%d/", srv.Port()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", string(body))
	assert.Equal(t, int32(1), calls.Load())

	addr := srv.Addr().String()
	shutdown(t, srv)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "port should be free after shutdown")
	ln.Close()
}

func TestConnectionProviderNotFound(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return NotFound()
	}))

	resp, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/missing", srv.Port()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConnectionProviderPostBody(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return JSON(http.StatusCreated, map[string]string{
			"echo":  string(req.Body),
			"query": req.Query.Get("q"),
		})
	}))

	resp, err := newTestClient().Post(fmt.Sprintf("http://127.0.0.1:%d/echo?q=1", srv.Port()), "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"echo":"payload","query":"1"}`, string(body))
}

// TestConnectionProviderConcurrentRequests verifies the handler runs for every
// request when many arrive at once.
func TestConnectionProviderConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	metrics := NewMetrics(nil)
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return OK([]byte("ok"))
	}), WithServerMetrics(metrics))

	client := newTestClient()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
			if !assert.NoError(t, err) {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), calls.Load())
	shutdown(t, srv)
	assert.Equal(t, float64(n), testutil.ToFloat64(metrics.Requests.WithLabelValues("2xx")))
	assert.Zero(t, testutil.ToFloat64(metrics.OpenConnections))
}

// TestConnectionProviderKeepAlive verifies two requests share one connection.
func TestConnectionProviderKeepAlive(t *testing.T) {
	conns := make(map[string]bool)
	var mu sync.Mutex
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		mu.Lock()
		conns[req.ConnID] = true
		mu.Unlock()
		return Text(http.StatusOK, req.Path)
	}))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for _, path := range []string{"/one", "/two"} {
		fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: test\r\n\r\n", path)
		resp, err := http.ReadResponse(reader, nil)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, path, string(body))
		assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
	}

	mu.Lock()
	assert.Len(t, conns, 1)
	mu.Unlock()
}

func TestConnectionProviderMalformedRequest(t *testing.T) {
	var calls atomic.Int32
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		calls.Add(1)
		return OK(nil)
	}))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprint(conn, "THIS IS NOT HTTP\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, calls.Load())

	// The accept loop keeps serving after a bad connection.
	ok, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnectionProviderBodyTooLarge(t *testing.T) {
	var calls atomic.Int32
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		calls.Add(1)
		return OK(nil)
	}))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// The declared body is never sent: the reply must not wait for it.
	fmt.Fprint(conn, "POST /upload HTTP/1.1\r\nHost: test\r\nContent-Length: 99999999\r\n\r\n")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.True(t, resp.Close)
	assert.Zero(t, calls.Load())

	shutdown(t, srv)
}

// TestConnectionProviderShutdownWithPendingOversizedBody verifies a rejected
// upload whose client keeps the socket open does not hold up shutdown.
func TestConnectionProviderShutdownWithPendingOversizedBody(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return OK(nil)
	}))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprint(conn, "PUT /upload HTTP/1.1\r\nHost: test\r\nContent-Length: 99999999\r\n\r\n")

	done := make(chan error, 1)
	go func() {
		// Give the server time to pick up the headers first.
		time.Sleep(100 * time.Millisecond)
		done <- <-srv.SignalCloseServer()
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown blocked on an unsent request body")
	}
}

// TestConnectionProviderZeroIdleTimeout verifies a non-positive idle timeout
// disables the timeout instead of expiring every connection at once.
func TestConnectionProviderZeroIdleTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		t.Run(d.String(), func(t *testing.T) {
			srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
				return Text(http.StatusOK, "ok")
			}), WithIdleTimeout(d))

			resp, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ok", string(body))

			shutdown(t, srv)
		})
	}
}

func TestConnectionProviderHandlerPanic(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		panic("handler bug")
	}))

	resp, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestConnectionProviderHeadOmitsBody(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return Text(http.StatusOK, "body")
	}))

	resp, err := newTestClient().Head(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

// TestConnectionProviderGracefulShutdown verifies in-flight requests finish
// before shutdown completes.
func TestConnectionProviderGracefulShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		close(entered)
		<-release
		return Text(http.StatusOK, "finished")
	}))

	type result struct {
		status int
		body   string
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/slow", srv.Port()))
		if err != nil {
			results <- result{err: err}
			return
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		results <- result{status: resp.StatusCode, body: string(body)}
	}()

	<-entered
	done := srv.SignalCloseServer()
	select {
	case <-done:
		t.Fatal("shutdown completed while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	// The port stays held until the in-flight request is done.
	l, err := net.Listen("tcp", srv.Addr().String())
	if err == nil {
		l.Close()
	}
	assert.Error(t, err)

	close(release)
	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "finished", r.body)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	_, err = net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	assert.Error(t, err, "no new connections after shutdown")
}

// TestConnectionProviderShutdownClosesIdleConnections verifies a keep-alive
// connection waiting for its next request does not hold up shutdown.
func TestConnectionProviderShutdownClosesIdleConnections(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return OK([]byte("ok"))
	}), WithIdleTimeout(time.Hour))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)
	fmt.Fprint(conn, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	resp.Body.Close()

	shutdown(t, srv)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

// TestConnectionProviderShutdownDeadline verifies a hung handler is cancelled
// once the caller's deadline passes.
func TestConnectionProviderShutdownDeadline(t *testing.T) {
	entered := make(chan struct{})
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		close(entered)
		<-ctx.Done()
		return Error(http.StatusServiceUnavailable, "cancelled")
	}))

	go func() {
		resp, err := newTestClient().Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-srv.Done():
	default:
		t.Fatal("provider not done after forced shutdown")
	}
}

func TestSignalCloseServerIdempotent(t *testing.T) {
	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return OK(nil)
	}))
	first := srv.SignalCloseServer()
	second := srv.SignalCloseServer()
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
}

func TestNewConnectionProviderErrors(t *testing.T) {
	_, err := NewConnectionProvider(0, nil)
	assert.Error(t, err)

	srv := startProvider(t, HandlerFunc(func(ctx context.Context, req *Request) Response {
		return OK(nil)
	}))
	_, err = NewConnectionProvider(srv.Port(), HandlerFunc(func(ctx context.Context, req *Request) Response {
		return OK(nil)
	}), WithListenHost("127.0.0.1"))
	assert.Error(t, err, "port already bound")
}
