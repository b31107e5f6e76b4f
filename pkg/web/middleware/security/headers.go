package security

import (
	"strconv"

	"github.com/crosscheckai/crosscheck/pkg/web"
)

// HeadersConfig configures security response headers. Empty fields are not sent.
type HeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge     int
	HSTSIncludeSub bool

	CSP                       string
	XFrameOptions             string
	XContentTypeOptions       bool
	ReferrerPolicy            string
	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string

	// CacheControl keeps session snapshots out of shared caches
	CacheControl string

	CustomHeaders map[string]string
}

// DefaultHeadersConfig returns headers suited to a JSON API
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTSMaxAge:                31536000,
		HSTSIncludeSub:            true,
		CSP:                       "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       true,
		ReferrerPolicy:            "no-referrer",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		CacheControl:              "no-store",
	}
}

// Headers sets the configured headers before calling the handler
func Headers(config HeadersConfig) web.FastMiddleware {
	var pairs [][2]string
	add := func(k, v string) {
		if v != "" {
			pairs = append(pairs, [2]string{k, v})
		}
	}

	if config.HSTSMaxAge > 0 {
		hsts := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSub {
			hsts += "; includeSubDomains"
		}
		add("Strict-Transport-Security", hsts)
	}
	add("Content-Security-Policy", config.CSP)
	add("X-Frame-Options", config.XFrameOptions)
	if config.XContentTypeOptions {
		add("X-Content-Type-Options", "nosniff")
	}
	add("Referrer-Policy", config.ReferrerPolicy)
	add("Cross-Origin-Opener-Policy", config.CrossOriginOpenerPolicy)
	add("Cross-Origin-Resource-Policy", config.CrossOriginResourcePolicy)
	add("Cache-Control", config.CacheControl)
	for k, v := range config.CustomHeaders {
		add(k, v)
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			h := &ctx.RequestCtx.Response.Header
			for _, p := range pairs {
				h.Set(p[0], p[1])
			}
			return next(ctx)
		}
	}
}
