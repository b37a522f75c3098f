package validation

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/repository"
)

// LimitGuard enforces the sender's daily and monthly usage ceilings. It
// projects current usage plus the candidate amount against each ceiling
// and rejects with the specific one breached.
type LimitGuard struct {
	repo   repository.Repository
	limits config.Limits
}

func NewLimitGuard(repo repository.Repository, limits config.Limits) *LimitGuard {
	return &LimitGuard{repo: repo, limits: limits}
}

// CheckLimits returns nil when the payment fits under both ceilings.
// Usage is read from the ledger at call time; the daily ceiling is
// checked first so its error wins when both would be breached.
func (g *LimitGuard) CheckLimits(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	amount := p.Amount.Value()

	daily, err := g.repo.GetDailyAmount(ctx, p.Sender.AccountNumber, p.Type, now)
	if err != nil {
		return fmt.Errorf("daily usage for %s: %w", p.Sender.AccountNumber, err)
	}
	if projected := daily.Add(amount); projected.GreaterThan(g.limits.DailyCeiling) {
		return &domain.LimitExceededError{
			Scope:     "daily",
			Limit:     g.limits.DailyCeiling,
			Projected: projected,
			Currency:  p.Amount.Currency(),
		}
	}

	monthly, err := g.repo.GetMonthlyAmount(ctx, p.Sender.AccountNumber, p.Type, now)
	if err != nil {
		return fmt.Errorf("monthly usage for %s: %w", p.Sender.AccountNumber, err)
	}
	if projected := monthly.Add(amount); projected.GreaterThan(g.limits.MonthlyCeiling) {
		return &domain.LimitExceededError{
			Scope:     "monthly",
			Limit:     g.limits.MonthlyCeiling,
			Projected: projected,
			Currency:  p.Amount.Currency(),
		}
	}
	return nil
}
