package agent

import (
	"encoding/json"
	"time"
)

// FailureKind classifies why an invocation did not succeed
type FailureKind string

const (
	// FailureConfiguration means a required credential or setting was missing. No I/O happened.
	FailureConfiguration FailureKind = "configuration"
	// FailureResolution means the agent id could not be resolved to a target.
	FailureResolution FailureKind = "resolution"
	// FailureRemote covers non-2xx responses, transport errors and unparsable bodies.
	FailureRemote FailureKind = "remote"
	// FailureTimeout means the per-invocation deadline expired before settlement.
	FailureTimeout FailureKind = "timeout"
	// FailureUnavailable means the agent's circuit breaker is open.
	FailureUnavailable FailureKind = "unavailable"
	// FailureInput means the batch payload was rejected before dispatch.
	FailureInput FailureKind = "input"
)

// UnknownName labels outcomes for ids that are not in the registry
const UnknownName = "Unknown"

// Outcome is the normalized result of one agent invocation.
// It is built once by the invoker or coordinator and never mutated afterwards.
type Outcome struct {
	WorkerID      string          `json:"workerId"`
	WorkerName    string          `json:"workerName"`
	Succeeded     bool            `json:"succeeded"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	FailureKind   FailureKind     `json:"failureKind,omitempty"`
	ElapsedMillis int64           `json:"elapsedMillis"`
}

// Success builds a succeeded outcome
func Success(d Descriptor, payload json.RawMessage, elapsed time.Duration) Outcome {
	return Outcome{
		WorkerID:      d.ID,
		WorkerName:    d.Name,
		Succeeded:     true,
		Payload:       payload,
		ElapsedMillis: elapsed.Milliseconds(),
	}
}

// Failure builds a failed outcome
func Failure(d Descriptor, kind FailureKind, reason string, elapsed time.Duration) Outcome {
	name := d.Name
	if name == "" {
		name = UnknownName
	}
	return Outcome{
		WorkerID:      d.ID,
		WorkerName:    name,
		Succeeded:     false,
		FailureReason: reason,
		FailureKind:   kind,
		ElapsedMillis: elapsed.Milliseconds(),
	}
}

// Clone returns a copy whose payload does not alias the receiver's
func (o Outcome) Clone() Outcome {
	if o.Payload != nil {
		p := make(json.RawMessage, len(o.Payload))
		copy(p, o.Payload)
		o.Payload = p
	}
	return o
}

// CloneOutcomes deep-copies a slice of outcomes. nil stays nil.
func CloneOutcomes(in []Outcome) []Outcome {
	if in == nil {
		return nil
	}
	out := make([]Outcome, len(in))
	for i, o := range in {
		out[i] = o.Clone()
	}
	return out
}
