// Package dashboard is the batch submission and session read boundary used by
// the HTTP API and the CLI.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/core/failfast"
	"github.com/crosscheckai/crosscheck/pkg/fanout"
	"github.com/crosscheckai/crosscheck/pkg/notify"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/crosscheckai/crosscheck/pkg/session"
	"github.com/crosscheckai/crosscheck/pkg/verdict"
	"github.com/google/uuid"
)

// ErrBusy is returned when a submission arrives while another run is in flight
var ErrBusy = errors.New("a batch is already in flight")

// EmptyInputMessage is the session failure recorded for blank submissions
const EmptyInputMessage = "no document text provided: nothing was sent to the agents"

const (
	modeAll    = "all"
	modeSubset = "subset"
	modeSingle = "single"
)

// Dispatcher fans a payload out to agents. *fanout.Coordinator satisfies it.
type Dispatcher interface {
	InvokeAll(ctx context.Context, text string, opts ...fanout.CallOption) ([]agent.Outcome, error)
	InvokeSubset(ctx context.Context, text string, ids []string, opts ...fanout.CallOption) ([]agent.Outcome, error)
}

// Options configures a Service. Registry, Dispatcher and Session are required.
type Options struct {
	Registry   *agent.Registry
	Dispatcher Dispatcher
	Session    *session.Aggregator
	Publisher  notify.Publisher
	Metrics    *prometheus.Metrics
	Logger     core.Logger

	// NewRunID generates run ids. Defaults to random UUIDs.
	NewRunID func() string
}

// Service runs batches and single agents and folds their outcomes into the session
type Service struct {
	registry   *agent.Registry
	dispatcher Dispatcher
	session    *session.Aggregator
	publisher  notify.Publisher
	metrics    *prometheus.Metrics
	logger     core.Logger
	newRunID   func() string
}

// View is what the dashboard renders: the session plus the verdict over its outcomes
type View struct {
	Session session.Snapshot `json:"session"`
	Verdict *verdict.Verdict `json:"verdict,omitempty"`
}

// New creates a Service
func New(opts Options) *Service {
	failfast.NotNil(opts.Registry, "registry")
	failfast.NotNil(opts.Dispatcher, "dispatcher")
	failfast.NotNil(opts.Session, "session")

	s := &Service{
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		session:    opts.Session,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		newRunID:   opts.NewRunID,
	}
	if s.publisher == nil {
		s.publisher = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = core.NewNopLogger()
	}
	if s.newRunID == nil {
		s.newRunID = uuid.NewString
	}
	return s
}

type submitOptions struct {
	shipmentID string
	runID      string
}

// SubmitOption customizes a batch submission
type SubmitOption func(*submitOptions)

// WithShipmentID labels the batch with the shipment being checked
func WithShipmentID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.shipmentID = id
	}
}

// WithRunID runs the batch under id instead of a generated one
func WithRunID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.runID = id
	}
}

// ProcessAll runs every registered agent against text
func (s *Service) ProcessAll(ctx context.Context, text string, opts ...SubmitOption) ([]agent.Outcome, error) {
	return s.process(ctx, modeAll, text, nil, opts)
}

// ProcessSubset runs the agents named by ids, in that order
func (s *Service) ProcessSubset(ctx context.Context, ids []string, text string, opts ...SubmitOption) ([]agent.Outcome, error) {
	return s.process(ctx, modeSubset, text, ids, opts)
}

func (s *Service) process(ctx context.Context, mode, text string, ids []string, opts []SubmitOption) ([]agent.Outcome, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	runID := so.runID
	if runID == "" {
		runID = s.newRunID()
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"run_id": runID,
		"mode":   mode,
	})

	if err := fanout.ValidatePayload(text); err != nil {
		if !s.session.Reject(runID, EmptyInputMessage) {
			s.metrics.BatchRejected(mode, "busy")
			return nil, ErrBusy
		}
		s.metrics.BatchRejected(mode, "input")
		log.Warn("batch rejected: empty document text")
		return []agent.Outcome{}, err
	}

	if !s.session.StartBatch(runID) {
		s.metrics.BatchRejected(mode, "busy")
		return nil, ErrBusy
	}
	if so.shipmentID != "" {
		s.session.SetShipmentID(runID, so.shipmentID)
	}
	s.metrics.BatchStarted()
	start := time.Now()
	log.Info("batch started")

	ctx = core.WithSessionID(ctx, runID)
	progress := fanout.WithProgress(func(_ int, _ agent.Outcome, settled, total int) {
		s.session.Progress(runID, settled, total)
	})

	var (
		outcomes []agent.Outcome
		err      error
	)
	if mode == modeAll {
		outcomes, err = s.dispatcher.InvokeAll(ctx, text, progress)
	} else {
		outcomes, err = s.dispatcher.InvokeSubset(ctx, text, ids, progress)
	}
	elapsed := time.Since(start)
	s.metrics.BatchSettled(mode, elapsed)

	if err != nil {
		s.session.Abort(runID, fmt.Sprintf("batch failed: %v", err))
		log.Errorf("batch failed: %v", err)
		return outcomes, err
	}

	if !s.session.CompleteBatch(runID, outcomes) {
		log.Warn("batch settled after the session was reset; outcomes not recorded")
	}

	v := verdict.Fold(so.shipmentID, outcomes)
	log.WithFields(map[string]interface{}{
		"agents":     len(outcomes),
		"failed":     v.Failed,
		"status":     string(v.Plan.Status),
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("batch settled")

	s.publish(ctx, notify.NewBatchSettled(runID, start, start.Add(elapsed), outcomes, v))
	return outcomes, nil
}

// ProcessOne runs a single agent. ok is false when nothing ran, either because
// id is unknown or text is blank; both are recorded as session failures.
func (s *Service) ProcessOne(ctx context.Context, id, text string) (agent.Outcome, bool, error) {
	d, found := s.registry.Resolve(id)
	if !found {
		if s.session.InFlight() {
			return agent.Outcome{}, false, ErrBusy
		}
		err := fmt.Errorf("%w: %s", agent.ErrUnknownAgent, id)
		s.session.Fail(err.Error())
		s.metrics.BatchRejected(modeSingle, "unknown_agent")
		return agent.Outcome{}, false, err
	}

	if err := fanout.ValidatePayload(text); err != nil {
		if s.session.InFlight() {
			return agent.Outcome{}, false, ErrBusy
		}
		s.session.Fail(EmptyInputMessage)
		s.metrics.BatchRejected(modeSingle, "input")
		return agent.Outcome{}, false, err
	}

	runID := s.newRunID()
	if !s.session.BeginSingle(runID, d.Name) {
		s.metrics.BatchRejected(modeSingle, "busy")
		return agent.Outcome{}, false, ErrBusy
	}
	s.metrics.BatchStarted()
	start := time.Now()

	ctx = core.WithSessionID(ctx, runID)
	outcomes, err := s.dispatcher.InvokeSubset(ctx, text, []string{d.ID})
	s.metrics.BatchSettled(modeSingle, time.Since(start))
	if err != nil || len(outcomes) != 1 {
		if err == nil {
			err = fmt.Errorf("dispatcher returned %d outcomes for one agent", len(outcomes))
		}
		s.session.Abort(runID, fmt.Sprintf("agent %s failed: %v", d.Name, err))
		return agent.Outcome{}, false, err
	}

	out := outcomes[0]
	s.session.RecordSingle(runID, out)
	return out, true, nil
}

// Snapshot returns the session and, once outcomes exist, the verdict over them
func (s *Service) Snapshot() View {
	snap := s.session.Snapshot()
	view := View{Session: snap}
	if len(snap.Outcomes) > 0 {
		v := verdict.Fold(snap.ShipmentID, snap.Outcomes)
		view.Verdict = &v
	}
	return view
}

// Reset returns the session to its empty state
func (s *Service) Reset() {
	s.session.Reset()
}

// ClearFailures dismisses session failure messages, keeping outcomes
func (s *Service) ClearFailures() {
	s.session.ClearFailures()
}

// StageInput caches pending document text in the session
func (s *Service) StageInput(text string) {
	s.session.StageInput(text)
}

// Agents lists the registry in registration order
func (s *Service) Agents() []agent.Descriptor {
	return s.registry.All()
}

// publish delivers the settlement notice. It outlives request cancellation and
// never fails the batch.
func (s *Service) publish(ctx context.Context, event notify.BatchSettled) {
	if err := s.publisher.PublishSettled(context.WithoutCancel(ctx), event); err != nil {
		s.metrics.NotificationFailed()
		s.logger.WithContext(ctx).Warnf("batch %s notification lost: %v", event.RunID, err)
	}
}
