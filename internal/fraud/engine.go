package fraud

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paycore/internal/config"
	"paycore/internal/domain"
)

// Score flags, stable names: downstream review tooling keys on them.
const (
	FlagUnusuallyHighAmount  = "UNUSUALLY_HIGH_AMOUNT"
	FlagHighAmount           = "HIGH_AMOUNT"
	FlagHighVelocity         = "HIGH_VELOCITY"
	FlagMediumVelocity       = "MEDIUM_VELOCITY"
	FlagNewReceiverHighValue = "NEW_RECEIVER_HIGH_VALUE"
	FlagSuspiciousVPA        = "SUSPICIOUS_VPA"
)

var (
	tenThousand  = decimal.NewFromInt(10000)
	fiveThousand = decimal.NewFromInt(5000)
	ten          = decimal.NewFromInt(10)
	five         = decimal.NewFromInt(5)
)

// Engine scores a candidate payment against the sender's recent history.
// It is a pure function of its inputs: no clock reads, no stores, no
// mutation of the candidate. Identical inputs always produce identical
// scores and flags.
type Engine struct {
	cfg config.Fraud
}

func NewEngine(cfg config.Fraud) *Engine {
	return &Engine{cfg: cfg}
}

// Score evaluates the candidate against history (the sender's most recent
// transactions, newest or oldest first, bounded by the caller). Signals
// are additive and the total is clamped to [0,100]. Time-windowed signals
// measure against the candidate's initiation time, not the wall clock.
func (e *Engine) Score(candidate *domain.Payment, history []*domain.Payment) domain.FraudCheck {
	var score int
	var flags []string

	amount := candidate.Amount.Value()
	avg := rollingAverage(history)

	switch {
	case !avg.IsZero() && amount.GreaterThan(avg.Mul(ten)) && amount.GreaterThan(tenThousand):
		score += 40
		flags = append(flags, FlagUnusuallyHighAmount)
	case !avg.IsZero() && amount.GreaterThan(avg.Mul(five)) && amount.GreaterThan(fiveThousand):
		score += 20
		flags = append(flags, FlagHighAmount)
	}

	switch velocity := countSince(history, candidate.InitiatedAt.Add(-time.Hour)); {
	case velocity >= 10:
		score += 30
		flags = append(flags, FlagHighVelocity)
	case velocity >= 5:
		score += 15
		flags = append(flags, FlagMediumVelocity)
	}

	if !receiverSeen(history, candidate.Receiver.AccountNumber) && amount.GreaterThan(tenThousand) {
		score += 25
		flags = append(flags, FlagNewReceiverHighValue)
	}

	if vpa := receiverVPA(candidate); vpa != "" && e.blacklistedVPA(vpa) {
		score += 15
		flags = append(flags, FlagSuspiciousVPA)
	}

	if score > 100 {
		score = 100
	}

	return domain.FraudCheck{
		RiskLevel: e.level(score),
		RiskScore: score,
		Flags:     flags,
		CheckedAt: candidate.InitiatedAt,
	}
}

// Action maps a risk level to the recommended handling. Enforcement is
// the orchestrator's decision, not the engine's.
func Action(level domain.RiskLevel) domain.RiskAction {
	switch {
	case level.AtLeast(domain.RiskHigh):
		return domain.ActionBlock
	case level == domain.RiskMedium:
		return domain.ActionStepUp
	default:
		return domain.ActionAllow
	}
}

func (e *Engine) level(score int) domain.RiskLevel {
	switch {
	case score >= e.cfg.HighThreshold:
		return domain.RiskHigh
	case score >= e.cfg.MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func (e *Engine) blacklistedVPA(vpa string) bool {
	lowered := strings.ToLower(vpa)
	for _, pattern := range e.cfg.VPABlacklist {
		if pattern != "" && strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func rollingAverage(history []*domain.Payment) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range history {
		sum = sum.Add(p.Amount.Value())
	}
	return sum.Div(decimal.NewFromInt(int64(len(history))))
}

func countSince(history []*domain.Payment, cutoff time.Time) int {
	var n int
	for _, p := range history {
		if !p.InitiatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

func receiverSeen(history []*domain.Payment, account string) bool {
	for _, p := range history {
		if p.Receiver.AccountNumber == account {
			return true
		}
	}
	return false
}

func receiverVPA(p *domain.Payment) string {
	if d, ok := p.Details.(domain.UPIDetails); ok {
		return d.VPA
	}
	return ""
}
