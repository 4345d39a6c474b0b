package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Response is the reply to one request. Building one has no side effects; the
// connection provider writes it to the socket.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns a response with the given status and body.
func NewResponse(status int, body []byte) Response {
	return Response{StatusCode: status, Header: make(http.Header), Body: body}
}

// OK returns a 200 response.
func OK(body []byte) Response {
	return NewResponse(http.StatusOK, body)
}

// Text returns a plain text response.
func Text(status int, text string) Response {
	r := NewResponse(status, []byte(text))
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return r
}

// JSON encodes v as the response body. Encoding failures produce a 500.
func JSON(status int, v interface{}) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Error(http.StatusInternalServerError, fmt.Sprintf("encode response: %v", err))
	}
	r := NewResponse(status, body)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// NotFound returns a 404 response.
func NotFound() Response {
	return Text(http.StatusNotFound, "not found")
}

// Error returns a plain text error response.
func Error(status int, msg string) Response {
	return Text(status, msg)
}

// IsNotFound reports whether r marks a missing resource.
func (r Response) IsNotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// WithHeader returns a copy of r with the header set.
func (r Response) WithHeader(key, value string) Response {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(key, value)
	r.Header = h
	return r
}

func (r Response) status() int {
	if r.StatusCode == 0 {
		return http.StatusOK
	}
	return r.StatusCode
}

// bodyAllowed reports whether the status permits a message body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// writeResponse serialises r as an HTTP/1.1 response. The body is omitted for
// HEAD requests and for statuses that forbid one.
func writeResponse(w *bufio.Writer, r Response, method string, keepAlive bool) error {
	status := r.status()
	text := http.StatusText(status)
	if text == "" {
		text = "status " + strconv.Itoa(status)
	}
	fmt.Fprintf(w, "HTTP/1.1 %03d %s\r\n", status, text)

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	if keepAlive {
		header.Set("Connection", "keep-alive")
	} else {
		header.Set("Connection", "close")
	}

	withBody := bodyAllowed(status)
	if withBody {
		if len(r.Body) > 0 && header.Get("Content-Type") == "" {
			header.Set("Content-Type", http.DetectContentType(r.Body))
		}
		header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	if err := header.Write(w); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	if withBody && method != http.MethodHead {
		if _, err := w.Write(r.Body); err != nil {
			return err
		}
	}
	return w.Flush()
}
