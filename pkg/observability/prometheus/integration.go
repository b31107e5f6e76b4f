package prometheus

import (
	"time"

	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// UnmatchedRoute labels requests that matched no route, keeping path cardinality bounded
const UnmatchedRoute = "unmatched"

// FastHTTPMetricsMiddleware records request count and latency by method, route pattern and status class.
// Install it with Router.Use so it sees every request.
func FastHTTPMetricsMiddleware(m *Metrics) web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil {
				status = web.StatusFor(err)
			}
			path := ctx.RoutePattern()
			if path == "" {
				path = UnmatchedRoute
			}
			m.RecordHTTPRequest(string(ctx.Method()), path, StatusClass(status), time.Since(start))
			return err
		}
	}
}

// FastHTTPHandler serves the registry for a fasthttp route
func FastHTTPHandler(m *Metrics) web.FastRequestHandler {
	h := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(ctx *web.FastRequestContext) error {
		h(ctx.RequestCtx)
		return nil
	}
}

// RegisterServerMetrics exposes the server's admission counters, read at scrape time
func RegisterServerMetrics(m *Metrics, server *web.FastHTTPServer) {
	if m == nil {
		return
	}
	m.registerer.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "crosscheck_http_requests_in_flight",
			Help: "HTTP requests currently being handled",
		}, func() float64 {
			return float64(server.Metrics().InFlight)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "crosscheck_http_requests_rejected_total",
			Help: "HTTP requests rejected with 503 because the server was at capacity",
		}, func() float64 {
			return float64(server.Metrics().RejectedRequests)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "crosscheck_http_handler_panics_total",
			Help: "HTTP handler panics isolated by the server",
		}, func() float64 {
			return float64(server.Metrics().Panics)
		}),
	)
}
