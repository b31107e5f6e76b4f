// Package webtest serves a web.FastHTTPServer over an in-memory listener for tests.
package webtest

import (
	"net"
	"strings"
	"testing"

	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// Client issues requests against an in-memory server
type Client struct {
	t *testing.T
	c *fasthttp.Client
}

// Response is a detached copy of a fasthttp response
type Response struct {
	Status int
	Body   []byte
	header map[string]string
}

// HeaderValue returns a response header, matched case-insensitively
func (r Response) HeaderValue(key string) string {
	return r.header[strings.ToLower(key)]
}

// Serve starts s on an in-memory listener that is closed when the test ends
func Serve(t *testing.T, s *web.FastHTTPServer) *Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ln)
		close(done)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})

	return &Client{
		t: t,
		c: &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

// Do sends a request. A non-empty body is sent as JSON.
func (c *Client) Do(method, path, body string, header map[string]string) Response {
	c.t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://test" + path)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	if err := c.c.Do(req, resp); err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}

	out := Response{
		Status: resp.StatusCode(),
		Body:   append([]byte(nil), resp.Body()...),
		header: make(map[string]string),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		out.header[strings.ToLower(string(k))] = string(v)
	})
	return out
}

// Get sends a GET request
func (c *Client) Get(path string, header map[string]string) Response {
	c.t.Helper()
	return c.Do(fasthttp.MethodGet, path, "", header)
}
