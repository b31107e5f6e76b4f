package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/crosscheckai/crosscheck/pkg/api"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware/security"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard HTTP API",
		Long: `Serve the JSON API used by the dashboard:

  GET    /api/agents              list the agent panel
  POST   /api/batches             run a document through all or some agents
  POST   /api/agents/:id/run      run a document through one agent
  GET    /api/session             current session and verdict
  POST   /api/session/reset       clear the session
  DELETE /api/session/failures    dismiss failure messages
  PUT    /api/session/input       stage document text
  GET    /healthz, GET /metrics

SIGINT or SIGTERM drains in-flight requests for server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.settings.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	s := c.settings
	a, err := newApp(ctx, s, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			c.logger.Warnf("shutdown: %v", err)
		}
	}()

	guard := api.Authenticator(api.AuthConfig{
		JWTSecret:    s.Auth.JWTSecret,
		Issuer:       s.Auth.Issuer,
		APIKeys:      s.Auth.APIKeys,
		APIKeyHashes: s.Auth.APIKeyHashes,
	})

	server := web.NewFastHTTPServer(s.HTTPServer(), c.logger)
	opts := api.Options{
		Service: a.service,
		Metrics: a.metrics,
		Logger:  c.logger,
		Auth:    guard,
	}
	if s.Server.SubmitRateLimit.RequestsPerMinute > 0 {
		opts.SubmitLimit = security.RateLimit(s.Server.SubmitRateLimit)
	}
	api.Mount(server, opts)
	prometheus.RegisterServerMetrics(a.metrics, server)

	if !s.Auth.Enabled() {
		c.logger.Warn("authentication disabled: /api/* is open")
	}
	c.logger.WithFields(map[string]interface{}{
		"agents":          a.registry.Len(),
		"max_in_flight":   s.Server.MaxInFlight,
		"max_concurrency": s.Fanout.MaxConcurrency,
		"nats":            s.NATS.Enabled,
		"tracing":         s.Tracing.Exporter,
	}).Info("crosscheck starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.logger.Warnf("shutdown incomplete, %d requests dropped: %v", server.Metrics().InFlight, err)
		return err
	}
	c.logger.Info("server stopped")
	return nil
}
