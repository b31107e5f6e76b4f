// Package verdict folds a settled batch of agent outcomes into one shipment
// risk verdict.
package verdict

import (
	"encoding/json"
	"strings"

	"github.com/crosscheckai/crosscheck/pkg/agent"
)

// Level is a finding or shipment risk level
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// ParseLevel normalizes a reported level. Anything unrecognized counts as LOW.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelCritical:
		return LevelCritical
	case LevelHigh:
		return LevelHigh
	case LevelMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Finding is one issue reported by an agent
type Finding struct {
	Agent             string `json:"agent"`
	AgentID           string `json:"agentId,omitempty"`
	RiskLevel         Level  `json:"riskLevel"`
	Message           string `json:"message,omitempty"`
	RecommendedAction string `json:"recommendedAction,omitempty"`
}

// Unverified marks an agent whose checks did not run to completion
type Unverified struct {
	Agent   string            `json:"agent"`
	AgentID string            `json:"agentId"`
	Kind    agent.FailureKind `json:"kind"`
	Reason  string            `json:"reason"`
}

// rawFinding accepts the field spellings agents use in their payloads
type rawFinding struct {
	RiskLevel         string `json:"risk_level"`
	Message           string `json:"message"`
	Issue             string `json:"issue"`
	RecommendedAction string `json:"recommended_action"`
	Recommendation    string `json:"recommendation"`
	Agent             string `json:"agent"`
}

type rawPayload struct {
	rawFinding
	Findings []rawFinding   `json:"findings"`
	Issues   []rawFinding   `json:"issues"`
	Result   json.RawMessage `json:"result"`
}

// ExtractFindings collects findings from successful payloads and lists failed
// outcomes as unverified. Payloads without recognizable findings contribute nothing.
func ExtractFindings(outcomes []agent.Outcome) ([]Finding, []Unverified) {
	findings := []Finding{}
	unverified := []Unverified{}

	for _, o := range outcomes {
		if !o.Succeeded {
			unverified = append(unverified, Unverified{
				Agent:   o.WorkerName,
				AgentID: o.WorkerID,
				Kind:    o.FailureKind,
				Reason:  o.FailureReason,
			})
			continue
		}
		for _, rf := range parsePayload(o.Payload, 0) {
			f := Finding{
				Agent:             o.WorkerName,
				AgentID:           o.WorkerID,
				RiskLevel:         ParseLevel(rf.RiskLevel),
				Message:           firstNonEmpty(rf.Message, rf.Issue),
				RecommendedAction: firstNonEmpty(rf.RecommendedAction, rf.Recommendation),
			}
			if rf.Agent != "" {
				f.Agent = rf.Agent
			}
			findings = append(findings, f)
		}
	}
	return findings, unverified
}

// parsePayload reads one payload. A "result" field holding JSON text is unwrapped once.
func parsePayload(raw json.RawMessage, depth int) []rawFinding {
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		var list []rawFinding
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		return withLevel(list)
	}

	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}

	var out []rawFinding
	if p.RiskLevel != "" {
		out = append(out, p.rawFinding)
	}
	out = append(out, withLevel(p.Findings)...)
	out = append(out, withLevel(p.Issues)...)

	if len(out) == 0 && len(p.Result) > 0 && depth == 0 {
		var text string
		if err := json.Unmarshal(p.Result, &text); err == nil {
			return parsePayload(json.RawMessage(strings.TrimSpace(text)), depth+1)
		}
		return parsePayload(p.Result, depth+1)
	}
	return out
}

// withLevel keeps entries that report a risk level
func withLevel(list []rawFinding) []rawFinding {
	var out []rawFinding
	for _, rf := range list {
		if rf.RiskLevel != "" {
			out = append(out, rf)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
