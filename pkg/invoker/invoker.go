package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/crosscheckai/crosscheck/pkg/observability/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxResponseBytes bounds how much of an agent response is read
	DefaultMaxResponseBytes = 8 << 20
	// DefaultExcerptBytes bounds the response excerpt embedded in failure reasons
	DefaultExcerptBytes = 256
)

// Doer sends HTTP requests. *http.Client satisfies it; tests substitute fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures an Invoker. Zero values select defaults.
type Options struct {
	Client           Doer
	Credential       CredentialFunc
	MaxResponseBytes int64
	ExcerptBytes     int
	Breakers         *BreakerSet
	Metrics          *prometheus.Metrics
	Tracer           trace.Tracer
	Logger           core.Logger
}

// Invoker executes one request against one agent and normalizes the result.
// It is stateless apart from the shared breaker set and safe for concurrent use.
type Invoker struct {
	client           Doer
	credential       CredentialFunc
	maxResponseBytes int64
	excerptBytes     int
	breakers         *BreakerSet
	metrics          *prometheus.Metrics
	tracer           trace.Tracer
	logger           core.Logger
}

// invokeRequest is the body POSTed to every agent
type invokeRequest struct {
	SessionID   string `json:"sessionId"`
	InputText   string `json:"inputText"`
	Synchronous bool   `json:"synchronous"`
}

// New creates an Invoker
func New(opts Options) *Invoker {
	iv := &Invoker{
		client:           opts.Client,
		credential:       opts.Credential,
		maxResponseBytes: opts.MaxResponseBytes,
		excerptBytes:     opts.ExcerptBytes,
		breakers:         opts.Breakers,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
		logger:           opts.Logger,
	}
	if iv.client == nil {
		iv.client = &http.Client{Timeout: 120 * time.Second}
	}
	if iv.credential == nil {
		iv.credential = EnvCredential(DefaultCredentialEnv)
	}
	if iv.maxResponseBytes <= 0 {
		iv.maxResponseBytes = DefaultMaxResponseBytes
	}
	if iv.excerptBytes <= 0 {
		iv.excerptBytes = DefaultExcerptBytes
	}
	if iv.tracer == nil {
		iv.tracer = tracing.NewNoop().Tracer()
	}
	if iv.logger == nil {
		iv.logger = core.NewNopLogger()
	}
	return iv
}

// Invoke calls one agent with the given text. It never returns an error:
// every failure mode ends in a failed Outcome with ElapsedMillis set.
func (iv *Invoker) Invoke(ctx context.Context, d agent.Descriptor, text string) agent.Outcome {
	start := time.Now()

	ctx, span := iv.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.id", d.ID),
		attribute.String("agent.name", d.Name),
	))
	defer span.End()

	outcome := iv.invoke(ctx, d, text, start)

	result := "success"
	if !outcome.Succeeded {
		result = string(outcome.FailureKind)
		span.SetStatus(codes.Error, outcome.FailureReason)
		iv.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"agent":      d.Name,
			"agent_id":   d.ID,
			"kind":       result,
			"elapsed_ms": outcome.ElapsedMillis,
		}).Warnf("agent invocation failed: %s", outcome.FailureReason)
	}
	span.SetAttributes(
		attribute.String("agent.result", result),
		attribute.Int64("agent.elapsed_ms", outcome.ElapsedMillis),
	)
	iv.metrics.RecordInvocation(d.Name, result, time.Since(start))

	return outcome
}

func (iv *Invoker) invoke(ctx context.Context, d agent.Descriptor, text string, start time.Time) agent.Outcome {
	// Preconditions: no I/O happens on any of these paths
	if d.ID == "" || d.Target == "" {
		return agent.Failure(d, agent.FailureResolution,
			fmt.Sprintf("agent %q has no resolvable target", d.ID), time.Since(start))
	}

	key, ok := iv.credential()
	if !ok {
		return agent.Failure(d, agent.FailureConfiguration,
			"agent credential is not configured (set "+DefaultCredentialEnv+" or invoker.api_key)", time.Since(start))
	}

	breaker := iv.breakers.For(d.ID)
	if breaker != nil && !breaker.Allow() {
		return agent.Failure(d, agent.FailureUnavailable,
			fmt.Sprintf("agent %s is temporarily unavailable after repeated failures", d.Name), time.Since(start))
	}

	outcome, remoteFault := iv.call(ctx, d, text, key, start)
	if breaker != nil {
		if remoteFault {
			breaker.Failure()
		} else {
			breaker.Success()
		}
	}
	return outcome
}

// call performs the HTTP exchange. remoteFault reports whether the failure should
// count against the agent's breaker (transport errors, timeouts and 5xx).
func (iv *Invoker) call(ctx context.Context, d agent.Descriptor, text, key string, start time.Time) (agent.Outcome, bool) {
	sessionID := core.GetSessionID(ctx)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	body, err := json.Marshal(invokeRequest{
		SessionID:   sessionID,
		InputText:   text,
		Synchronous: true,
	})
	if err != nil {
		return agent.Failure(d, agent.FailureRemote, fmt.Sprintf("failed to marshal request: %v", err), time.Since(start)), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Target, bytes.NewReader(body))
	if err != nil {
		return agent.Failure(d, agent.FailureResolution, fmt.Sprintf("invalid target %q: %v", d.Target, err), time.Since(start)), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	requestID := core.GetRequestID(ctx)
	if requestID == "" {
		requestID = core.GenerateRequestID()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := iv.client.Do(req)
	if err != nil {
		return agent.Failure(d, classify(ctx, err), err.Error(), time.Since(start)), true
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, iv.maxResponseBytes+1))
	elapsed := time.Since(start)
	if err != nil {
		return agent.Failure(d, classify(ctx, err), fmt.Sprintf("failed to read response: %v", err), elapsed), true
	}
	if int64(len(raw)) > iv.maxResponseBytes {
		return agent.Failure(d, agent.FailureRemote,
			fmt.Sprintf("agent %s response exceeds %d bytes", d.Name, iv.maxResponseBytes), elapsed), false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("agent %s returned HTTP %d: %s", d.Name, resp.StatusCode, Excerpt(raw, iv.excerptBytes))
		return agent.Failure(d, agent.FailureRemote, reason, elapsed), resp.StatusCode >= 500
	}

	if !core.IsJSON(raw) {
		reason := fmt.Sprintf("agent %s returned a non-JSON body: %s", d.Name, Excerpt(raw, iv.excerptBytes))
		return agent.Failure(d, agent.FailureRemote, reason, elapsed), false
	}

	return agent.Success(d, json.RawMessage(raw), elapsed), false
}

// classify maps a transport error to timeout or remote
func classify(ctx context.Context, err error) agent.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return agent.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return agent.FailureTimeout
	}
	return agent.FailureRemote
}

// Excerpt returns at most n bytes of body as valid UTF-8, marking truncation
func Excerpt(body []byte, n int) string {
	if len(body) == 0 {
		return "<empty body>"
	}
	if n <= 0 || len(body) <= n {
		return strings.ToValidUTF8(string(body), "")
	}
	return strings.ToValidUTF8(string(body[:n]), "") + "..."
}
