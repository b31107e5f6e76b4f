// Package session owns the observable processing session: the single writer of
// in-flight state, outcomes and failure messages for the dashboard.
package session

import (
	"sync"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
)

// State is the session lifecycle phase
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateSettled State = "settled"
)

// Mode distinguishes fan-out batches from single-agent runs
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeSingle Mode = "single"
)

// Snapshot is a deep copy of the session, safe to retain and serialize
type Snapshot struct {
	State                State           `json:"state"`
	Mode                 Mode            `json:"mode,omitempty"`
	RunID                string          `json:"runId,omitempty"`
	ShipmentID           string          `json:"shipmentId,omitempty"`
	InFlight             bool            `json:"inFlight"`
	ActiveWorkerName     string          `json:"activeWorkerName,omitempty"`
	CompletionPercent    int             `json:"completionPercent"`
	Outcomes             []agent.Outcome `json:"outcomes"`
	FailureMessages      []string        `json:"failureMessages"`
	CompletedWorkerNames []string        `json:"completedWorkerNames"`
	CompletedWorkerIDs   []string        `json:"completedWorkerIds"`
	StagedInput          string          `json:"stagedInput,omitempty"`
	StartedAt            time.Time       `json:"startedAt,omitzero"`
	SettledAt            time.Time       `json:"settledAt,omitzero"`
}

// Aggregator is the sole writer of the processing session. All methods are
// safe for concurrent use.
type Aggregator struct {
	mu  sync.RWMutex
	s   Snapshot
	now func() time.Time
}

// New creates an Aggregator in the idle state
func New() *Aggregator {
	a := &Aggregator{now: time.Now}
	a.s = empty()
	return a
}

func empty() Snapshot {
	return Snapshot{
		State:                StateIdle,
		Outcomes:             []agent.Outcome{},
		FailureMessages:      []string{},
		CompletedWorkerNames: []string{},
		CompletedWorkerIDs:   []string{},
	}
}

// StartBatch discards the previous session and enters the running state under runID.
// It returns false and changes nothing while another run is in flight.
func (a *Aggregator) StartBatch(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.s.InFlight {
		return false
	}
	staged := a.s.StagedInput
	a.s = empty()
	a.s.StagedInput = staged
	a.s.State = StateRunning
	a.s.Mode = ModeBatch
	a.s.RunID = runID
	a.s.InFlight = true
	a.s.StartedAt = a.now()
	return true
}

// BeginSingle marks one agent as running under runID. Prior outcomes are kept so
// single runs accumulate. It returns false while another run is in flight.
func (a *Aggregator) BeginSingle(runID, workerName string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.s.InFlight {
		return false
	}
	a.s.State = StateRunning
	a.s.Mode = ModeSingle
	a.s.RunID = runID
	a.s.InFlight = true
	a.s.ActiveWorkerName = workerName
	a.s.CompletionPercent = 0
	a.s.StartedAt = a.now()
	a.s.SettledAt = time.Time{}
	return true
}

// SetShipmentID labels the in-flight run with the shipment it checks
func (a *Aggregator) SetShipmentID(runID, shipmentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(runID) {
		return false
	}
	a.s.ShipmentID = shipmentID
	return true
}

// Progress updates the observational completion percent of a running batch
func (a *Aggregator) Progress(runID string, settled, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(runID) || total <= 0 {
		return
	}
	pct := settled * 100 / total
	if pct > 100 {
		pct = 100
	}
	// progress is monotonic within a run
	if pct > a.s.CompletionPercent {
		a.s.CompletionPercent = pct
	}
}

// CompleteBatch settles a fan-out run, replacing the outcomes wholesale.
// Every settled outcome counts as completed, failed or not. It returns false
// when runID is no longer current, e.g. after a Reset.
func (a *Aggregator) CompleteBatch(runID string, outcomes []agent.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(runID) {
		return false
	}

	a.s.Outcomes = cloneOutcomes(outcomes)
	a.s.CompletedWorkerNames = make([]string, len(outcomes))
	a.s.CompletedWorkerIDs = make([]string, len(outcomes))
	for i, o := range outcomes {
		a.s.CompletedWorkerNames[i] = o.WorkerName
		a.s.CompletedWorkerIDs[i] = o.WorkerID
	}
	a.settle()
	return true
}

// RecordSingle appends one outcome and settles a single-agent run. It returns
// false when runID is no longer current.
func (a *Aggregator) RecordSingle(runID string, o agent.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(runID) {
		return false
	}

	a.s.Outcomes = append(a.s.Outcomes, o.Clone())
	a.s.CompletedWorkerNames = append(a.s.CompletedWorkerNames, o.WorkerName)
	a.s.CompletedWorkerIDs = append(a.s.CompletedWorkerIDs, o.WorkerID)
	a.settle()
	return true
}

// Fail appends a session-level failure message
func (a *Aggregator) Fail(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s.FailureMessages = append(a.s.FailureMessages, message)
}

// Abort records message and settles the run without new outcomes. The message
// is kept even when runID is stale.
func (a *Aggregator) Abort(runID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s.FailureMessages = append(a.s.FailureMessages, message)
	if a.current(runID) {
		a.settle()
	}
}

// Reject records an input failure as a new, already settled batch. Readers never
// observe InFlight for a rejected batch. It returns false while a run is in flight.
func (a *Aggregator) Reject(runID, message string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.s.InFlight {
		return false
	}
	staged := a.s.StagedInput
	a.s = empty()
	a.s.StagedInput = staged
	a.s.Mode = ModeBatch
	a.s.RunID = runID
	a.s.StartedAt = a.now()
	a.s.FailureMessages = append(a.s.FailureMessages, message)
	a.settle()
	a.s.CompletionPercent = 0
	return true
}

// Reset returns to the empty idle state, dropping the staged input too.
// A run still in flight becomes stale and its settlement is discarded.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s = empty()
}

// ClearFailures drops failure messages and keeps outcomes
func (a *Aggregator) ClearFailures() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s.FailureMessages = []string{}
}

// StageInput caches the caller's pending document text
func (a *Aggregator) StageInput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s.StagedInput = text
}

// InFlight reports whether a run is executing
func (a *Aggregator) InFlight() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.s.InFlight
}

// Snapshot returns a deep copy of the session
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.s
	s.Outcomes = cloneOutcomes(a.s.Outcomes)
	s.FailureMessages = append([]string{}, a.s.FailureMessages...)
	s.CompletedWorkerNames = append([]string{}, a.s.CompletedWorkerNames...)
	s.CompletedWorkerIDs = append([]string{}, a.s.CompletedWorkerIDs...)
	return s
}

// current reports whether runID names the in-flight run. Called with mu held.
func (a *Aggregator) current(runID string) bool {
	return a.s.InFlight && a.s.RunID == runID
}

// settle must be called with mu held
func (a *Aggregator) settle() {
	a.s.InFlight = false
	a.s.ActiveWorkerName = ""
	a.s.CompletionPercent = 100
	a.s.State = StateSettled
	a.s.SettledAt = a.now()
}

func cloneOutcomes(in []agent.Outcome) []agent.Outcome {
	if in == nil {
		return []agent.Outcome{}
	}
	return agent.CloneOutcomes(in)
}
