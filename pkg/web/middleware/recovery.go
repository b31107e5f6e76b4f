package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/valyala/fasthttp"
)

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	// Logger receives the panic. Default: no-op.
	Logger core.Logger

	// StackTrace logs the goroutine stack with the panic
	StackTrace bool
}

// Recovery turns a handler panic into a 500 JSON error and logs it with the request id
func Recovery(config RecoveryConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					fields := map[string]interface{}{
						"request_id": ctx.RequestID(),
						"method":     string(ctx.Method()),
						"path":       string(ctx.Path()),
					}
					if config.StackTrace {
						fields["stack"] = string(debug.Stack())
					}
					logger.WithFields(fields).Errorf("panic recovered: %v", r)

					ctx.RequestCtx.ResetBody()
					err = web.NewHTTPError(fasthttp.StatusInternalServerError, "internal_error", "internal server error").
						Wrap(fmt.Errorf("panic: %v", r))
				}
			}()

			return next(ctx)
		}
	}
}
