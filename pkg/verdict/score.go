package verdict

import (
	"math"
	"sort"
)

const (
	maxDelayProbability  = 95
	baselineDelayPercent = 5

	holdingFeePerDay   = 75.0
	opportunityPerDay  = 0.001
	adminCost          = 500.0
	DefaultDelayDays   = 7
	costRangeLowRatio  = 0.7
	costRangeHighRatio = 1.5
)

var (
	delayWeights = map[Level]int{
		LevelCritical: 40,
		LevelHigh:     25,
		LevelMedium:   10,
		LevelLow:      5,
	}
	priorityScores = map[Level]int{
		LevelCritical: 4,
		LevelHigh:     3,
		LevelMedium:   2,
		LevelLow:      1,
	}
	timelines = map[Level]string{
		LevelCritical: "IMMEDIATE - Fix before shipping",
		LevelHigh:     "URGENT - Fix within 24 hours",
		LevelMedium:   "SOON - Review before shipping",
		LevelLow:      "OPTIONAL - Monitor",
	}
)

// Delay is the estimated probability of a customs hold
type Delay struct {
	ProbabilityPercent int    `json:"probabilityPercent"`
	RiskLevel          Level  `json:"riskLevel"`
	IssuesAnalyzed     int    `json:"issuesAnalyzed"`
	Message            string `json:"message"`
}

// DelayProbability sums per-level weights, capped at 95%. No findings means 5%.
func DelayProbability(findings []Finding) Delay {
	if len(findings) == 0 {
		return Delay{
			ProbabilityPercent: baselineDelayPercent,
			RiskLevel:          LevelLow,
			Message:            "No issues detected - low delay risk",
		}
	}

	total := 0
	for _, f := range findings {
		total += delayWeights[ParseLevel(string(f.RiskLevel))]
	}
	if total > maxDelayProbability {
		total = maxDelayProbability
	}

	d := Delay{ProbabilityPercent: total, IssuesAnalyzed: len(findings)}
	switch {
	case total >= 70:
		d.RiskLevel, d.Message = LevelCritical, "Very high probability of customs hold"
	case total >= 40:
		d.RiskLevel, d.Message = LevelHigh, "High probability of customs delay"
	case total >= 20:
		d.RiskLevel, d.Message = LevelMedium, "Moderate delay risk"
	default:
		d.RiskLevel, d.Message = LevelLow, "Low delay risk"
	}
	return d
}

// Assessment is the overall shipment recommendation after prioritization
type Assessment string

const (
	AssessmentBlock   Assessment = "BLOCK SHIPMENT"
	AssessmentReview  Assessment = "REVIEW RECOMMENDED"
	AssessmentCaution Assessment = "PROCEED WITH CAUTION"
	AssessmentClear   Assessment = "CLEAR TO SHIP"
)

// PrioritizedFinding is a finding with its priority and action timeline
type PrioritizedFinding struct {
	Finding
	PriorityScore  int    `json:"priorityScore"`
	ActionTimeline string `json:"actionTimeline"`
}

// Prioritized holds findings ordered by severity
type Prioritized struct {
	Findings   []PrioritizedFinding `json:"findings"`
	Critical   int                  `json:"critical"`
	High       int                  `json:"high"`
	Medium     int                  `json:"medium"`
	Low        int                  `json:"low"`
	Assessment Assessment           `json:"assessment"`
}

// Prioritize orders findings by severity, keeping report order within a level
func Prioritize(findings []Finding) Prioritized {
	p := Prioritized{Findings: make([]PrioritizedFinding, 0, len(findings))}
	for _, f := range findings {
		f.RiskLevel = ParseLevel(string(f.RiskLevel))
		p.Findings = append(p.Findings, PrioritizedFinding{
			Finding:        f,
			PriorityScore:  priorityScores[f.RiskLevel],
			ActionTimeline: timelines[f.RiskLevel],
		})
		switch f.RiskLevel {
		case LevelCritical:
			p.Critical++
		case LevelHigh:
			p.High++
		case LevelMedium:
			p.Medium++
		default:
			p.Low++
		}
	}
	sort.SliceStable(p.Findings, func(i, j int) bool {
		return p.Findings[i].PriorityScore > p.Findings[j].PriorityScore
	})

	switch {
	case p.Critical > 0:
		p.Assessment = AssessmentBlock
	case p.High > 0:
		p.Assessment = AssessmentReview
	case p.Medium > 0:
		p.Assessment = AssessmentCaution
	default:
		p.Assessment = AssessmentClear
	}
	return p
}

// Status is the shipment clearance status of an action plan
type Status string

const (
	StatusBlocked     Status = "BLOCKED"
	StatusReview      Status = "REVIEW REQUIRED"
	StatusConditional Status = "CLEARED WITH CONDITIONS"
	StatusCleared     Status = "CLEARED"
)

const (
	unknownIssue        = "Unknown issue"
	defaultAction       = "Review required"
	decisionBlocked     = "DO NOT SHIP - Critical issues must be resolved"
	decisionReview      = "HOLD - Review recommended before shipping"
	decisionConditional = "PROCEED - Address minor issues as time permits"
	decisionCleared     = "SHIP - No issues found, shipment cleared for export"
)

// ActionItem is one step of an action plan
type ActionItem struct {
	Issue  string `json:"issue"`
	Agent  string `json:"agent"`
	Action string `json:"action"`
}

// Plan is the action plan for one shipment
type Plan struct {
	ShipmentID     string       `json:"shipmentId,omitempty"`
	Status         Status       `json:"status"`
	Decision       string       `json:"decision"`
	ActionRequired bool         `json:"actionRequired"`
	Immediate      []ActionItem `json:"immediate"`
	Urgent         []ActionItem `json:"urgent"`
	Recommended    []ActionItem `json:"recommended"`
	NextSteps      []string     `json:"nextSteps,omitempty"`
}

// ActionPlan turns prioritized findings into immediate, urgent and recommended actions
func ActionPlan(shipmentID string, p Prioritized) Plan {
	plan := Plan{
		ShipmentID:  shipmentID,
		Immediate:   []ActionItem{},
		Urgent:      []ActionItem{},
		Recommended: []ActionItem{},
	}
	if len(p.Findings) == 0 {
		plan.Status = StatusCleared
		plan.Decision = decisionCleared
		plan.NextSteps = []string{"Proceed with shipping", "Monitor customs clearance"}
		return plan
	}

	plan.ActionRequired = true
	for _, f := range p.Findings {
		item := ActionItem{
			Issue:  firstNonEmpty(f.Message, unknownIssue),
			Agent:  firstNonEmpty(f.Agent, "Unknown"),
			Action: firstNonEmpty(f.RecommendedAction, defaultAction),
		}
		switch f.RiskLevel {
		case LevelCritical:
			plan.Immediate = append(plan.Immediate, item)
		case LevelHigh:
			plan.Urgent = append(plan.Urgent, item)
		default:
			plan.Recommended = append(plan.Recommended, item)
		}
	}

	switch {
	case len(plan.Immediate) > 0:
		plan.Status, plan.Decision = StatusBlocked, decisionBlocked
	case len(plan.Urgent) > 0:
		plan.Status, plan.Decision = StatusReview, decisionReview
	default:
		plan.Status, plan.Decision = StatusConditional, decisionConditional
	}
	return plan
}

// CostEstimate is the expected financial impact of a delay
type CostEstimate struct {
	ProbabilityPercent float64 `json:"probabilityPercent"`
	DelayDays          int     `json:"delayDays"`
	ShipmentValue      float64 `json:"shipmentValue"`
	HoldingFees        float64 `json:"holdingFees"`
	OpportunityCost    float64 `json:"opportunityCost"`
	AdminCosts         float64 `json:"adminCosts"`
	TotalIfDelayed     float64 `json:"totalIfDelayed"`
	ExpectedCost       float64 `json:"expectedCost"`
	MinCost            float64 `json:"minCost"`
	MaxCost            float64 `json:"maxCost"`
}

// EstimateDelayCost prices a delay of days at the given probability.
// days <= 0 selects DefaultDelayDays. Amounts are rounded to cents.
func EstimateDelayCost(probabilityPercent, shipmentValue float64, days int) CostEstimate {
	if days <= 0 {
		days = DefaultDelayDays
	}
	holding := holdingFeePerDay * float64(days)
	opportunity := shipmentValue * opportunityPerDay * float64(days)
	total := holding + opportunity + adminCost
	expected := total * probabilityPercent / 100

	return CostEstimate{
		ProbabilityPercent: probabilityPercent,
		DelayDays:          days,
		ShipmentValue:      shipmentValue,
		HoldingFees:        cents(holding),
		OpportunityCost:    cents(opportunity),
		AdminCosts:         adminCost,
		TotalIfDelayed:     cents(total),
		ExpectedCost:       cents(expected),
		MinCost:            cents(expected * costRangeLowRatio),
		MaxCost:            cents(expected * costRangeHighRatio),
	}
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
