package domain

import "time"

// RiskLevel bands a fraud score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtLeast reports whether l is at or above other in severity.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskOrder[l] >= riskOrder[other]
}

// RiskAction is the recommended handling for a risk level. Policy, not
// engine behavior: the engine only scores.
type RiskAction string

const (
	ActionAllow  RiskAction = "ALLOW"
	ActionStepUp RiskAction = "STEP_UP_AUTH"
	ActionBlock  RiskAction = "BLOCK"
)

// FraudCheck is the immutable result of a single risk evaluation.
// Computed once per payment; RiskScore is clamped to [0,100].
type FraudCheck struct {
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore int       `json:"risk_score"`
	Flags     []string  `json:"flags"`
	CheckedAt time.Time `json:"checked_at"`
}
