// Package api exposes the dashboard service as a JSON HTTP API on pkg/web.
package api

import (
	"errors"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/core/failfast"
	"github.com/crosscheckai/crosscheck/pkg/dashboard"
	"github.com/crosscheckai/crosscheck/pkg/fanout"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/crosscheckai/crosscheck/pkg/verdict"
	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware/auth"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware/security"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Options configures the API. Service is required.
type Options struct {
	Service *dashboard.Service
	Metrics *prometheus.Metrics
	Logger  core.Logger

	// Auth guards /api/* when set. See Authenticator.
	Auth web.FastMiddleware

	// SubmitLimit guards the routes that dispatch to agents when set
	SubmitLimit web.FastMiddleware

	// NewBatchID generates batch ids. Defaults to random UUIDs.
	NewBatchID func() string
}

// API serves the dashboard endpoints
type API struct {
	svc        *dashboard.Service
	metrics    *prometheus.Metrics
	logger     core.Logger
	newBatchID func() string
}

// Mount installs the global middleware and every route on server's router
func Mount(server *web.FastHTTPServer, opts Options) *API {
	failfast.NotNil(server, "server")
	failfast.NotNil(opts.Service, "service")

	a := &API{
		svc:        opts.Service,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		newBatchID: opts.NewBatchID,
	}
	if a.logger == nil {
		a.logger = core.NewNopLogger()
	}
	if a.newBatchID == nil {
		a.newBatchID = uuid.NewString
	}

	r := server.Router()
	if a.metrics != nil {
		r.Use(prometheus.FastHTTPMetricsMiddleware(a.metrics))
	}
	r.Use(
		middleware.Logging(middleware.LoggingConfig{
			Logger:    a.logger,
			SkipPaths: []string{"/healthz", "/metrics"},
		}),
		middleware.Recovery(middleware.RecoveryConfig{Logger: a.logger, StackTrace: true}),
		security.Headers(security.DefaultHeadersConfig()),
	)

	r.GET("/healthz", a.health)
	if a.metrics != nil {
		r.GET("/metrics", prometheus.FastHTTPHandler(a.metrics))
	}

	var guard, submit []web.FastMiddleware
	if opts.Auth != nil {
		guard = append(guard, opts.Auth)
	}
	submit = append(submit, guard...)
	if opts.SubmitLimit != nil {
		submit = append(submit, opts.SubmitLimit)
	}

	r.GET("/api/agents", a.listAgents, guard...)
	r.POST("/api/batches", a.submitBatch, submit...)
	r.POST("/api/agents/:id/run", a.runAgent, submit...)
	r.GET("/api/session", a.session, guard...)
	r.POST("/api/session/reset", a.resetSession, guard...)
	r.DELETE("/api/session/failures", a.clearFailures, guard...)
	r.PUT("/api/session/input", a.stageInput, guard...)

	return a
}

// AuthConfig selects the /api/* authenticators
type AuthConfig struct {
	JWTSecret string
	Issuer    string

	// APIKeys maps raw keys to caller names
	APIKeys map[string]string

	// APIKeyHashes maps caller names to bcrypt key hashes
	APIKeyHashes map[string]string
}

// Authenticator builds the /api/* guard: JWT when a secret is set, API keys when
// any are configured, either one when both are. It returns nil when neither is.
func Authenticator(cfg AuthConfig) web.FastMiddleware {
	var list []web.FastMiddleware
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Issuer = cfg.Issuer
		list = append(list, auth.JWT(jwtCfg))
	}
	if len(cfg.APIKeys) > 0 || len(cfg.APIKeyHashes) > 0 {
		list = append(list, auth.APIKey(auth.APIKeyConfig{Keys: cfg.APIKeys, HashedKeys: cfg.APIKeyHashes}))
	}

	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	default:
		return auth.Either(list...)
	}
}

type agentsResponse struct {
	Agents []agent.Descriptor `json:"agents"`
}

type batchRequest struct {
	Text       string   `json:"text"`
	AgentIDs   []string `json:"agentIds"`
	ShipmentID string   `json:"shipmentId"`
}

type batchResponse struct {
	BatchID  string          `json:"batchId"`
	Outcomes []agent.Outcome `json:"outcomes"`
	Verdict  verdict.Verdict `json:"verdict"`
}

type textRequest struct {
	Text string `json:"text"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Agents   int    `json:"agents"`
	InFlight bool   `json:"inFlight"`
}

func (a *API) health(ctx *web.FastRequestContext) error {
	view := a.svc.Snapshot()
	return ctx.JSON(fasthttp.StatusOK, healthResponse{
		Status:   "ok",
		Agents:   len(a.svc.Agents()),
		InFlight: view.Session.InFlight,
	})
}

func (a *API) listAgents(ctx *web.FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, agentsResponse{Agents: a.svc.Agents()})
}

func (a *API) submitBatch(ctx *web.FastRequestContext) error {
	var req batchRequest
	if err := ctx.BindJSON(&req); err != nil {
		return badBody(err)
	}

	batchID := a.newBatchID()
	opts := []dashboard.SubmitOption{dashboard.WithRunID(batchID)}
	if req.ShipmentID != "" {
		opts = append(opts, dashboard.WithShipmentID(req.ShipmentID))
	}

	var (
		outcomes []agent.Outcome
		err      error
	)
	// an explicit empty list is a subset of zero agents, not the whole panel
	if req.AgentIDs != nil {
		outcomes, err = a.svc.ProcessSubset(ctx.Context(), req.AgentIDs, req.Text, opts...)
	} else {
		outcomes, err = a.svc.ProcessAll(ctx.Context(), req.Text, opts...)
	}
	if err != nil {
		return mapError(err)
	}

	return ctx.JSON(fasthttp.StatusOK, batchResponse{
		BatchID:  batchID,
		Outcomes: outcomes,
		Verdict:  verdict.Fold(req.ShipmentID, outcomes),
	})
}

func (a *API) runAgent(ctx *web.FastRequestContext) error {
	var req textRequest
	if err := ctx.BindJSON(&req); err != nil {
		return badBody(err)
	}

	out, _, err := a.svc.ProcessOne(ctx.Context(), ctx.Param("id"), req.Text)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(fasthttp.StatusOK, out)
}

func (a *API) session(ctx *web.FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, a.svc.Snapshot())
}

func (a *API) resetSession(ctx *web.FastRequestContext) error {
	a.svc.Reset()
	return ctx.NoContent()
}

func (a *API) clearFailures(ctx *web.FastRequestContext) error {
	a.svc.ClearFailures()
	return ctx.NoContent()
}

func (a *API) stageInput(ctx *web.FastRequestContext) error {
	var req textRequest
	if err := ctx.BindJSON(&req); err != nil {
		return badBody(err)
	}
	a.svc.StageInput(req.Text)
	return ctx.NoContent()
}

func badBody(err error) error {
	return web.NewHTTPError(fasthttp.StatusBadRequest, "invalid_body", "request body must be a JSON object").Wrap(err)
}

// mapError turns service sentinels into client errors. Anything else is a 500
// whose cause is logged, never rendered.
func mapError(err error) error {
	switch {
	case errors.Is(err, fanout.ErrEmptyPayload):
		return web.NewHTTPError(fasthttp.StatusBadRequest, "empty_document", dashboard.EmptyInputMessage).Wrap(err)
	case errors.Is(err, agent.ErrUnknownAgent):
		return web.NewHTTPError(fasthttp.StatusNotFound, "unknown_agent", err.Error()).Wrap(err)
	case errors.Is(err, dashboard.ErrBusy):
		return web.NewHTTPError(fasthttp.StatusConflict, "busy", err.Error()).Wrap(err)
	default:
		return err
	}
}
