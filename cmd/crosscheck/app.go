package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/config"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/dashboard"
	"github.com/crosscheckai/crosscheck/pkg/fanout"
	"github.com/crosscheckai/crosscheck/pkg/invoker"
	"github.com/crosscheckai/crosscheck/pkg/notify"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/crosscheckai/crosscheck/pkg/observability/tracing"
	"github.com/crosscheckai/crosscheck/pkg/session"
)

// app holds the services built from Settings. Nothing here is global; every
// command builds its own.
type app struct {
	settings  config.Settings
	logger    core.Logger
	registry  *agent.Registry
	metrics   *prometheus.Metrics
	tracing   *tracing.Provider
	publisher notify.Publisher
	service   *dashboard.Service
}

func newApp(ctx context.Context, s config.Settings, logger core.Logger) (*app, error) {
	registry, err := s.Registry()
	if err != nil {
		return nil, fmt.Errorf("build agent registry: %w", err)
	}

	tp, err := tracing.Setup(ctx, s.Tracing)
	if err != nil {
		return nil, err
	}

	var publisher notify.Publisher = notify.Nop{}
	if s.NATS.Enabled {
		p, err := notify.NewNATSPublisher(s.NATSConfig(), logger)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		publisher = p
		logger.Infof("publishing settled batches to %s", notify.SettledSubject(s.NATS.Prefix))
	}

	metrics := prometheus.NewMetrics(prometheus.NewRegistry())

	var breakers *invoker.BreakerSet
	if s.Invoker.Breaker.Threshold > 0 {
		breakers = invoker.NewBreakerSet(s.Invoker.Breaker.Threshold, s.Invoker.Breaker.ResetTimeout)
	}
	iv := invoker.New(invoker.Options{
		Client:           &http.Client{Timeout: s.Invoker.Timeout},
		Credential:       s.Credential(),
		MaxResponseBytes: s.Invoker.MaxResponseBytes,
		Breakers:         breakers,
		Metrics:          metrics,
		Tracer:           tp.Tracer(),
		Logger:           logger,
	})

	fanoutOpts := s.FanoutOptions()
	fanoutOpts.Logger = logger
	coordinator := fanout.New(registry, iv, fanoutOpts)

	service := dashboard.New(dashboard.Options{
		Registry:   registry,
		Dispatcher: coordinator,
		Session:    session.New(),
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
	})

	if !s.CredentialConfigured() {
		logger.Warnf("no agent credential configured: set invoker.api_key or %s", s.Invoker.CredentialEnv)
	}

	return &app{
		settings:  s,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		tracing:   tp,
		publisher: publisher,
		service:   service,
	}, nil
}

// Close releases the notifier and flushes spans
func (a *app) Close(ctx context.Context) error {
	return errors.Join(
		a.publisher.Close(),
		a.tracing.Shutdown(ctx),
	)
}
