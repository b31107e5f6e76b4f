package middleware

import (
	"time"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/web"
)

// LoggingConfig configures access logging
type LoggingConfig struct {
	Logger core.Logger

	// SkipPaths are not logged, e.g. health probes and scrapes
	SkipPaths []string
}

// Logging writes one entry per request after the handler returns.
// 5xx responses log at error level, 4xx at warn, the rest at info.
func Logging(config LoggingConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			path := string(ctx.Path())
			if _, ok := skip[path]; ok {
				return next(ctx)
			}

			start := time.Now()
			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil {
				status = web.StatusFor(err)
			}
			fields := map[string]interface{}{
				"method":      string(ctx.Method()),
				"path":        path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if route := ctx.RoutePattern(); route != "" {
				fields["route"] = route
			}
			log := logger.WithContext(ctx.Context()).WithFields(fields)

			switch {
			case status >= 500:
				if err != nil {
					log.Errorf("request failed: %v", err)
				} else {
					log.Error("request failed")
				}
			case status >= 400:
				log.Warn("request rejected")
			default:
				log.Info("request completed")
			}
			return err
		}
	}
}
