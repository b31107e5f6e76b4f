package web

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/core/failfast"
	"github.com/valyala/fasthttp"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// FastHTTPServer serves a Router over fasthttp.
// Requests beyond MaxInFlight are rejected with 503 before reaching the router.
type FastHTTPServer struct {
	router       *Router
	server       *fasthttp.Server
	addr         string
	logger       core.Logger
	backpressure *BackpressureController

	totalRequests      int64
	rejectedRequests   int64
	successfulRequests int64
	errorRequests      int64
	panics             int64
}

// FastHTTPServerConfig configures the fasthttp server
type FastHTTPServerConfig struct {
	Addr               string        `yaml:"addr" json:"addr"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxRequestBodySize int           `yaml:"max_request_body_size" json:"max_request_body_size"`

	// MaxInFlight bounds concurrently handled requests. 0 disables the limit.
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight"`
}

// DefaultFastHTTPServerConfig returns defaults sized for a document checking API
func DefaultFastHTTPServerConfig(addr string) FastHTTPServerConfig {
	return FastHTTPServerConfig{
		Addr:               addr,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxRequestBodySize: 8 << 20,
		MaxInFlight:        256,
	}
}

// NewFastHTTPServer creates a server with an empty router
func NewFastHTTPServer(cfg FastHTTPServerConfig, logger core.Logger) *FastHTTPServer {
	failfast.If(cfg.Addr != "", "server address cannot be empty")
	if logger == nil {
		logger = core.NewNopLogger()
	}

	s := &FastHTTPServer{
		router:       NewRouter(logger),
		addr:         cfg.Addr,
		logger:       logger,
		backpressure: NewBackpressureController(cfg.MaxInFlight),
	}
	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		Name:                  "crosscheck",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		MaxRequestBodySize:    cfg.MaxRequestBodySize,
		NoDefaultServerHeader: true,
		Logger:                fasthttpLogger{logger},
	}
	return s
}

// Router returns the router requests are dispatched to
func (s *FastHTTPServer) Router() *Router {
	return s.router
}

// Handler returns the raw fasthttp handler, for serving on a custom listener
func (s *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return s.handleRequest
}

// Addr returns the configured listen address
func (s *FastHTTPServer) Addr() string {
	return s.addr
}

// ListenAndServe blocks serving on the configured address
func (s *FastHTTPServer) ListenAndServe() error {
	s.logger.Infof("http server listening on %s", s.addr)
	return s.server.ListenAndServe(s.addr)
}

// Serve blocks serving on ln
func (s *FastHTTPServer) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx expires
func (s *FastHTTPServer) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// ServerMetrics provides server request counters
type ServerMetrics struct {
	TotalRequests      int64
	RejectedRequests   int64
	SuccessfulRequests int64
	ErrorRequests      int64
	Panics             int64
	InFlight           int64
	Capacity           int64
}

// Metrics returns current server counters
func (s *FastHTTPServer) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()
	return ServerMetrics{
		TotalRequests:      atomic.LoadInt64(&s.totalRequests),
		RejectedRequests:   atomic.LoadInt64(&s.rejectedRequests),
		SuccessfulRequests: atomic.LoadInt64(&s.successfulRequests),
		ErrorRequests:      atomic.LoadInt64(&s.errorRequests),
		Panics:             atomic.LoadInt64(&s.panics),
		InFlight:           bp.CurrentLoad,
		Capacity:           bp.Capacity,
	}
}

// handleRequest applies backpressure, assigns the request id and routes
func (s *FastHTTPServer) handleRequest(rc *fasthttp.RequestCtx) {
	atomic.AddInt64(&s.totalRequests, 1)

	if !s.backpressure.TryAcquire() {
		atomic.AddInt64(&s.rejectedRequests, 1)
		rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
		rc.SetContentType("application/json")
		rc.SetBodyString(`{"error":"capacity_exceeded","message":"server is at capacity, retry later"}`)
		return
	}
	defer s.backpressure.Release()

	requestID := string(rc.Request.Header.Peek(RequestIDHeader))
	if requestID == "" {
		requestID = core.GenerateRequestID()
	}
	rc.Response.Header.Set(RequestIDHeader, requestID)

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.panics, 1)
			atomic.AddInt64(&s.errorRequests, 1)
			s.logger.WithFields(map[string]interface{}{
				"request_id": requestID,
				"method":     string(rc.Method()),
				"path":       string(rc.Path()),
			}).Errorf("handler panic (isolated): %v", r)
			rc.ResetBody()
			rc.SetStatusCode(fasthttp.StatusInternalServerError)
			rc.SetContentType("application/json")
			rc.SetBodyString(fmt.Sprintf(`{"error":"internal_error","message":"request handler failed","requestId":%q}`, requestID))
		}
	}()

	s.router.ServeFastHTTP(NewFastRequestContext(rc, requestID))

	status := rc.Response.StatusCode()
	if status >= 200 && status < 300 {
		atomic.AddInt64(&s.successfulRequests, 1)
	} else if status >= 500 {
		atomic.AddInt64(&s.errorRequests, 1)
	}
}

// fasthttpLogger routes fasthttp's internal messages into core.Logger
type fasthttpLogger struct {
	logger core.Logger
}

func (l fasthttpLogger) Printf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// FastRequestContext wraps fasthttp.RequestCtx with route params and request-scoped values
type FastRequestContext struct {
	RequestCtx *fasthttp.RequestCtx
	Params     map[string]string
	requestID  string
	route      string
	values     map[string]interface{}
}

// NewFastRequestContext wraps rc. requestID may be empty.
func NewFastRequestContext(rc *fasthttp.RequestCtx, requestID string) *FastRequestContext {
	return &FastRequestContext{
		RequestCtx: rc,
		Params:     make(map[string]string),
		requestID:  requestID,
	}
}

// Set stores a request-scoped value
func (c *FastRequestContext) Set(key string, value interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	c.values[key] = value
}

// Get returns a request-scoped value, or nil
func (c *FastRequestContext) Get(key string) interface{} {
	return c.values[key]
}

// JSON writes a JSON response - fail-fast
func (c *FastRequestContext) JSON(statusCode int, data interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	jsonData, err := core.JSONEncode(data)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.SetBody(jsonData)
	return nil
}

// BindJSON decodes the request body into v - fail-fast
func (c *FastRequestContext) BindJSON(v interface{}) error {
	if v == nil {
		return fmt.Errorf("cannot bind to nil value")
	}

	body := c.RequestCtx.PostBody()
	if len(body) == 0 {
		return fmt.Errorf("empty request body")
	}
	return core.JSONDecode(body, v)
}

// Text writes a plain text response
func (c *FastRequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.SetBodyString(text)
	return nil
}

// NoContent writes an empty 204 response
func (c *FastRequestContext) NoContent() error {
	c.RequestCtx.SetStatusCode(fasthttp.StatusNoContent)
	return nil
}

// Query returns a query parameter value
func (c *FastRequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// Param returns a path parameter value
func (c *FastRequestContext) Param(key string) string {
	return c.Params[key]
}

// Method returns the HTTP method
func (c *FastRequestContext) Method() []byte {
	return c.RequestCtx.Method()
}

// Path returns the request path
func (c *FastRequestContext) Path() []byte {
	return c.RequestCtx.Path()
}

// RoutePattern returns the matched route pattern, e.g. "/api/agents/:id",
// or "" when no route matched
func (c *FastRequestContext) RoutePattern() string {
	return c.route
}

// RequestID returns the request id for this request
func (c *FastRequestContext) RequestID() string {
	return c.requestID
}

// Context returns a context carrying the request id
func (c *FastRequestContext) Context() context.Context {
	ctx := context.Background()
	if c.requestID != "" {
		ctx = core.WithRequestID(ctx, c.requestID)
	}
	return ctx
}
