package middleware_test

import (
	"testing"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware"
	"github.com/crosscheckai/crosscheck/pkg/web/webtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := core.NewZapLogger(zap.New(obs))

	s := web.NewFastHTTPServer(web.DefaultFastHTTPServerConfig(":0"), nil)
	s.Router().Use(
		middleware.Logging(middleware.LoggingConfig{Logger: logger, SkipPaths: []string{"/healthz"}}),
		middleware.Recovery(middleware.RecoveryConfig{}),
	)
	s.Router().GET("/items/:id", func(ctx *web.FastRequestContext) error {
		return ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	})
	s.Router().GET("/healthz", func(ctx *web.FastRequestContext) error {
		return ctx.Text(200, "ok")
	})
	s.Router().GET("/conflict", func(ctx *web.FastRequestContext) error {
		return web.NewHTTPError(409, "busy", "try later")
	})
	s.Router().GET("/panic", func(ctx *web.FastRequestContext) error {
		panic("boom")
	})
	c := webtest.Serve(t, s)

	c.Get("/items/7", map[string]string{web.RequestIDHeader: "rid-7"})
	c.Get("/healthz", nil)
	c.Get("/conflict", nil)
	c.Get("/panic", nil)
	c.Get("/nowhere", nil)

	entries := logs.All()
	require.Len(t, entries, 4)

	ok := entries[0]
	assert.Equal(t, zapcore.InfoLevel, ok.Level)
	assert.Equal(t, "request completed", ok.Message)
	fields := ok.ContextMap()
	assert.Equal(t, "rid-7", fields["request_id"])
	assert.Equal(t, "/items/:id", fields["route"])
	assert.Equal(t, "/items/7", fields["path"])
	assert.EqualValues(t, 200, fields["status"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.EqualValues(t, 409, entries[1].ContextMap()["status"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.EqualValues(t, 500, entries[2].ContextMap()["status"])
	assert.Contains(t, entries[2].Message, "boom")

	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.EqualValues(t, 404, entries[3].ContextMap()["status"])
	assert.NotContains(t, entries[3].ContextMap(), "route")
}
