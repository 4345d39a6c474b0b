package transport

import (
	"bufio"
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, r Response, method string, keepAlive bool) (*http.Response, string) {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(w, r, method, keepAlive))

	resp, err := http.ReadResponse(bufio.NewReader(&buf), &http.Request{Method: method})
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, body.String()
}

func TestWriteResponse(t *testing.T) {
	resp, body := roundTrip(t, Text(http.StatusTeapot, "short and stout"), http.MethodGet, true)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", body)
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestWriteResponseEmptyBody(t *testing.T) {
	resp, body := roundTrip(t, Response{}, http.MethodGet, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))
	assert.True(t, resp.Close)
}

func TestWriteResponseNoContent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(w, NewResponse(http.StatusNoContent, []byte("ignored")), http.MethodDelete, true))
	assert.NotContains(t, buf.String(), "Content-Length")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestWriteResponseHead(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(w, Text(http.StatusOK, "hello"), http.MethodHead, true))
	assert.Contains(t, buf.String(), "Content-Length: 5\r\n")
	assert.NotContains(t, buf.String(), "hello")
}

func TestJSONResponse(t *testing.T) {
	r := JSON(http.StatusCreated, map[string]int{"port": 40000})
	assert.Equal(t, http.StatusCreated, r.StatusCode)
	assert.JSONEq(t, `{"port":40000}`, string(r.Body))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

	bad := JSON(http.StatusOK, make(chan int))
	assert.Equal(t, http.StatusInternalServerError, bad.StatusCode)
}

func TestResponseWithHeader(t *testing.T) {
	base := OK([]byte("x"))
	tagged := base.WithHeader("X-Session", "abc")
	assert.Equal(t, "abc", tagged.Header.Get("X-Session"))
	assert.Empty(t, base.Header.Get("X-Session"))

	var zero Response
	assert.Equal(t, "v", zero.WithHeader("K", "v").Header.Get("K"))
}

func TestResponseIsNotFound(t *testing.T) {
	assert.True(t, NotFound().IsNotFound())
	assert.False(t, OK(nil).IsNotFound())
}
