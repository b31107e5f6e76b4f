package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/core/failfast"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyPayload is returned when the batch text is empty after trimming.
// No invocation is launched in that case.
var ErrEmptyPayload = errors.New("document text is empty")

// DefaultInvocationTimeout bounds how long one agent may take to settle
const DefaultInvocationTimeout = 60 * time.Second

// Invoker runs one agent invocation. Implementations must not return until the
// invocation has settled and must report every failure inside the Outcome.
type Invoker interface {
	Invoke(ctx context.Context, d agent.Descriptor, text string) agent.Outcome
}

// Resolver is the read side of the agent registry
type Resolver interface {
	Resolve(id string) (agent.Descriptor, bool)
	All() []agent.Descriptor
}

// SettleFunc observes each outcome as it settles. settled counts outcomes so far.
// Calls are serialized; index is the outcome's position in the returned slice.
type SettleFunc func(index int, outcome agent.Outcome, settled, total int)

// Options configures a Coordinator
type Options struct {
	// MaxConcurrency caps in-flight invocations per batch. 0 means unbounded.
	MaxConcurrency int

	// InvocationTimeout is the per-invocation deadline. 0 selects the default,
	// a negative value disables the deadline.
	InvocationTimeout time.Duration

	Logger core.Logger
}

// Coordinator fans one payload out to many agents and returns exactly one
// outcome per requested agent, in request order.
type Coordinator struct {
	registry       Resolver
	invoker        Invoker
	maxConcurrency int
	timeout        time.Duration
	logger         core.Logger
}

// New creates a Coordinator. registry and invoker are required.
func New(registry Resolver, invoker Invoker, opts Options) *Coordinator {
	failfast.NotNil(registry, "registry")
	failfast.NotNil(invoker, "invoker")

	timeout := opts.InvocationTimeout
	if timeout == 0 {
		timeout = DefaultInvocationTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}

	return &Coordinator{
		registry:       registry,
		invoker:        invoker,
		maxConcurrency: opts.MaxConcurrency,
		timeout:        timeout,
		logger:         logger,
	}
}

type callOptions struct {
	onSettle SettleFunc
}

// CallOption customizes a single InvokeAll/InvokeSubset call
type CallOption func(*callOptions)

// WithProgress registers a callback that observes outcomes as they settle
func WithProgress(fn SettleFunc) CallOption {
	return func(o *callOptions) {
		o.onSettle = fn
	}
}

// slot is one requested invocation. A slot with a preset outcome never runs.
type slot struct {
	descriptor agent.Descriptor
	preset     *agent.Outcome
}

// InvokeAll invokes every registered agent, in registry order
func (c *Coordinator) InvokeAll(ctx context.Context, text string, opts ...CallOption) ([]agent.Outcome, error) {
	if err := ValidatePayload(text); err != nil {
		return []agent.Outcome{}, err
	}

	all := c.registry.All()
	slots := make([]slot, len(all))
	for i, d := range all {
		slots[i] = slot{descriptor: d}
	}
	return c.dispatch(ctx, text, slots, opts), nil
}

// InvokeSubset invokes the agents named by ids, preserving the caller's order.
// Unknown ids yield a resolution failure in their position rather than being dropped.
func (c *Coordinator) InvokeSubset(ctx context.Context, text string, ids []string, opts ...CallOption) ([]agent.Outcome, error) {
	if err := ValidatePayload(text); err != nil {
		return []agent.Outcome{}, err
	}

	slots := make([]slot, len(ids))
	for i, id := range ids {
		d, ok := c.registry.Resolve(id)
		if !ok {
			out := agent.Failure(agent.Descriptor{ID: id, Name: agent.UnknownName}, agent.FailureResolution,
				fmt.Sprintf("%v: %q is not in the registry", agent.ErrUnknownAgent, id), 0)
			slots[i] = slot{descriptor: agent.Descriptor{ID: id}, preset: &out}
			continue
		}
		slots[i] = slot{descriptor: d}
	}
	return c.dispatch(ctx, text, slots, opts), nil
}

// ValidatePayload rejects blank batch text
func ValidatePayload(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPayload
	}
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, text string, slots []slot, opts []CallOption) []agent.Outcome {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	total := len(slots)
	results := make([]agent.Outcome, total)

	var (
		mu      sync.Mutex
		settled int
	)
	settle := func(i int, out agent.Outcome) {
		results[i] = out
		if co.onSettle == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		settled++
		co.onSettle(i, out, settled, total)
	}

	start := time.Now()
	var g errgroup.Group
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}

	for i, s := range slots {
		if s.preset != nil {
			settle(i, *s.preset)
			continue
		}
		g.Go(func() error {
			settle(i, c.invokeOne(ctx, s.descriptor, text))
			// failures are data: never abort siblings
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range results {
		if !out.Succeeded {
			failed++
		}
	}
	c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"agents":     total,
		"failed":     failed,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("fan-out settled")

	return results
}

// invokeOne races one invocation against the per-invocation deadline.
// A response arriving after the deadline is dropped.
func (c *Coordinator) invokeOne(ctx context.Context, d agent.Descriptor, text string) agent.Outcome {
	if c.timeout < 0 {
		return c.safeInvoke(ctx, d, text)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan agent.Outcome, 1)
	go func() {
		done <- c.safeInvoke(ctx, d, text)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return agent.Failure(d, agent.FailureTimeout,
				fmt.Sprintf("agent %s did not respond within %s", d.Name, c.timeout), time.Since(start))
		}
		return agent.Failure(d, agent.FailureRemote,
			fmt.Sprintf("invocation of agent %s canceled: %v", d.Name, ctx.Err()), time.Since(start))
	}
}

// safeInvoke turns an invoker panic into a failed outcome so the slot still settles
func (c *Coordinator) safeInvoke(ctx context.Context, d agent.Descriptor, text string) (out agent.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("agent %s invocation panicked: %v", d.Name, r)
			out = agent.Failure(d, agent.FailureRemote, fmt.Sprintf("agent invocation panicked: %v", r), time.Since(start))
		}
	}()
	return c.invoker.Invoke(ctx, d, text)
}
