package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Request is one decoded request received by a ConnectionProvider.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Proto      string
	Header     http.Header
	Body       []byte
	RemoteAddr string
	// ConnID identifies the connection the request arrived on.
	ConnID string
}

// Handler answers requests. It is called concurrently from many connections
// and must synchronise any shared state itself.
type Handler interface {
	ServeRequest(ctx context.Context, req *Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) Response

// ServeRequest calls f.
func (f HandlerFunc) ServeRequest(ctx context.Context, req *Request) Response {
	return f(ctx, req)
}
