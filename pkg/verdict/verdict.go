package verdict

import "github.com/crosscheckai/crosscheck/pkg/agent"

// Verdict is the folded result of one batch
type Verdict struct {
	ShipmentID  string       `json:"shipmentId,omitempty"`
	Delay       Delay        `json:"delay"`
	Prioritized Prioritized  `json:"prioritized"`
	Plan        Plan         `json:"plan"`
	Unverified  []Unverified `json:"unverified"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`

	// Complete is false when any agent failed to report, so the verdict
	// rests on partial evidence.
	Complete bool `json:"complete"`
}

// Fold combines a settled batch into one verdict
func Fold(shipmentID string, outcomes []agent.Outcome) Verdict {
	findings, unverified := ExtractFindings(outcomes)
	prioritized := Prioritize(findings)

	return Verdict{
		ShipmentID:  shipmentID,
		Delay:       DelayProbability(findings),
		Prioritized: prioritized,
		Plan:        ActionPlan(shipmentID, prioritized),
		Unverified:  unverified,
		Succeeded:   len(outcomes) - len(unverified),
		Failed:      len(unverified),
		Complete:    len(unverified) == 0,
	}
}

// Cost prices the verdict's delay probability for a shipment value
func (v Verdict) Cost(shipmentValue float64, days int) CostEstimate {
	return EstimateDelayCost(float64(v.Delay.ProbabilityPercent), shipmentValue, days)
}
