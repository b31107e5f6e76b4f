// Package notify publishes settled batch summaries for external collaborators,
// such as a history store.
package notify

import (
	"context"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/verdict"
)

// OutcomeSummary is an outcome without its payload
type OutcomeSummary struct {
	WorkerID      string            `json:"workerId"`
	WorkerName    string            `json:"workerName"`
	Succeeded     bool              `json:"succeeded"`
	FailureKind   agent.FailureKind `json:"failureKind,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	ElapsedMillis int64             `json:"elapsedMillis"`
}

// BatchSettled is published once per settled fan-out batch
type BatchSettled struct {
	RunID       string           `json:"runId"`
	ShipmentID  string           `json:"shipmentId,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	SettledAt   time.Time        `json:"settledAt"`
	Outcomes    []OutcomeSummary `json:"outcomes"`
	Status      verdict.Status   `json:"status"`
	RiskLevel   verdict.Level    `json:"riskLevel"`
	DelayChance int              `json:"delayProbabilityPercent"`
	Complete    bool             `json:"complete"`
}

// NewBatchSettled summarizes a batch and its verdict
func NewBatchSettled(runID string, started, settled time.Time, outcomes []agent.Outcome, v verdict.Verdict) BatchSettled {
	summaries := make([]OutcomeSummary, len(outcomes))
	for i, o := range outcomes {
		summaries[i] = OutcomeSummary{
			WorkerID:      o.WorkerID,
			WorkerName:    o.WorkerName,
			Succeeded:     o.Succeeded,
			FailureKind:   o.FailureKind,
			FailureReason: o.FailureReason,
			ElapsedMillis: o.ElapsedMillis,
		}
	}
	return BatchSettled{
		RunID:       runID,
		ShipmentID:  v.ShipmentID,
		StartedAt:   started,
		SettledAt:   settled,
		Outcomes:    summaries,
		Status:      v.Plan.Status,
		RiskLevel:   v.Delay.RiskLevel,
		DelayChance: v.Delay.ProbabilityPercent,
		Complete:    v.Complete,
	}
}

// Publisher delivers batch notifications
type Publisher interface {
	PublishSettled(ctx context.Context, event BatchSettled) error
	Close() error
}

// Nop discards every notification
type Nop struct{}

func (Nop) PublishSettled(context.Context, BatchSettled) error { return nil }

func (Nop) Close() error { return nil }
