package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/gateway"
	"paycore/internal/notify"
	"paycore/internal/observability"
	"paycore/internal/repository"
)

// StatusTotals is one line of the daily summary.
type StatusTotals struct {
	Count  int
	Amount decimal.Decimal
}

// Report is the outcome of one reconciliation sweep.
type Report struct {
	Checked        int
	Resolved       int
	ForcedFailures int
	Conflicts      int
	Summary        map[domain.Status]StatusTotals
	Abnormal       []string
	AlertsSent     int
}

// Service resolves stuck payments against the gateway and flags
// anomalies. It never self-schedules: a worker invokes Run on an
// interval, and each Run is independent and idempotent.
type Service struct {
	repo     repository.Repository
	gateway  gateway.Service
	notifier notify.Notifier
	cfg      config.Reconciliation
	log      *zap.Logger
}

func NewService(repo repository.Repository, gw gateway.Service, notifier notify.Notifier, cfg config.Reconciliation, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gw,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Run executes one full sweep as of the given instant: stuck-payment
// resolution, the daily summary with abnormal-amount flagging, and
// per-sender pattern detection.
func (s *Service) Run(ctx context.Context, asOf time.Time) (*Report, error) {
	report := &Report{Summary: map[domain.Status]StatusTotals{}}

	if err := s.sweepStuck(ctx, asOf, report); err != nil {
		return report, err
	}
	if err := s.dailySummary(ctx, asOf, report); err != nil {
		return report, err
	}
	if err := s.senderPatterns(ctx, asOf, report); err != nil {
		return report, err
	}

	s.log.Info("reconciliation sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("resolved", report.Resolved),
		zap.Int("forced_failures", report.ForcedFailures),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("alerts", report.AlertsSent))
	return report, nil
}

// sweepStuck resolves every PENDING_EXTERNAL/PROCESSING payment older
// than the grace period. Anything stuck beyond the abandon window is
// force-failed; the rest are verified against the gateway. A version
// conflict means the orchestrator got there first; the payment is left
// for the next sweep.
func (s *Service) sweepStuck(ctx context.Context, asOf time.Time, report *Report) error {
	stuck, err := s.repo.FindByCriteria(ctx, repository.Criteria{
		Statuses:        []domain.Status{domain.StatusPendingExternal, domain.StatusProcessing},
		InitiatedBefore: asOf.Add(-s.cfg.GracePeriod),
	})
	if err != nil {
		return fmt.Errorf("list stuck payments: %w", err)
	}

	var manualQueue int64
	for _, p := range stuck {
		report.Checked++
		if p.NeedsManualReconciliation() {
			manualQueue++
			continue
		}

		if asOf.Sub(p.InitiatedAt) > s.cfg.AbandonAfter {
			if err := s.resolve(ctx, p, domain.StatusFailed, domain.ReasonReconciliationTimeout, report); err != nil {
				return err
			}
			report.ForcedFailures++
			observability.IncrementReconciliation("forced_failure")
			continue
		}

		result, err := s.gateway.VerifyTransaction(ctx, p.ReferenceNumber)
		if err != nil {
			s.log.Warn("gateway verify failed",
				zap.String("reference", p.ReferenceNumber), zap.Error(err))
			continue
		}

		switch result.Status {
		case gateway.VerifyCompleted:
			if err := s.resolve(ctx, p, domain.StatusCompleted, "", report); err != nil {
				return err
			}
			observability.IncrementReconciliation("completed")
		case gateway.VerifyFailed:
			if err := s.resolve(ctx, p, domain.StatusFailed, "gateway reported failure", report); err != nil {
				return err
			}
			observability.IncrementReconciliation("failed")
		case gateway.VerifyReturned:
			if err := s.resolve(ctx, p, domain.StatusReturned, "returned by settlement system", report); err != nil {
				return err
			}
			observability.IncrementReconciliation("returned")
		default:
			// Still pending or unknown at the gateway; wait for the
			// abandon window.
		}
	}

	observability.SetManualReconciliationQueueSize(manualQueue)
	return nil
}

func (s *Service) resolve(ctx context.Context, p *domain.Payment, next domain.Status, reason string, report *Report) error {
	expected := p.Version
	fx, err := p.TransitionTo(next, reason)
	if err != nil {
		var transition *domain.StateTransitionError
		if errors.As(err, &transition) {
			s.log.Error("reconciliation hit illegal transition",
				zap.String("reference", p.ReferenceNumber),
				zap.String("from", string(transition.From)),
				zap.String("to", string(transition.To)))
			return nil
		}
		return err
	}
	if err := s.repo.Update(ctx, p, expected); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			report.Conflicts++
			return nil
		}
		return fmt.Errorf("persist reconciliation of %s: %w", p.ReferenceNumber, err)
	}
	report.Resolved++
	s.applyEffects(ctx, p, fx)
	return nil
}

// dailySummary aggregates the day's payments by status and flags
// abnormal amounts: above the configured multiple of the day's average
// and above the floor.
func (s *Service) dailySummary(ctx context.Context, asOf time.Time, report *Report) error {
	dayStart := asOf.UTC().Truncate(24 * time.Hour)
	payments, err := s.repo.FindByCriteria(ctx, repository.Criteria{
		InitiatedAfter:  dayStart,
		InitiatedBefore: asOf,
	})
	if err != nil {
		return fmt.Errorf("list day's payments: %w", err)
	}
	if len(payments) == 0 {
		return nil
	}

	total := decimal.Zero
	for _, p := range payments {
		line := report.Summary[p.Status]
		line.Count++
		line.Amount = line.Amount.Add(p.Amount.Value())
		report.Summary[p.Status] = line
		total = total.Add(p.Amount.Value())
	}
	average := total.Div(decimal.NewFromInt(int64(len(payments))))

	threshold := average.Mul(decimal.NewFromInt(s.cfg.AbnormalMultiplier))
	for _, p := range payments {
		value := p.Amount.Value()
		if value.GreaterThan(threshold) && value.GreaterThan(s.cfg.AbnormalFloor) {
			report.Abnormal = append(report.Abnormal, p.ReferenceNumber)
			s.alert(ctx, report, notify.Alert{
				Kind:      notify.AlertAbnormalAmount,
				Reference: p.ReferenceNumber,
				Account:   p.Sender.AccountNumber,
				Message:   "amount far above the day's average, flagged for manual review",
				Fields: map[string]string{
					"amount":      value.StringFixed(2),
					"day_average": average.StringFixed(2),
				},
				At: asOf,
			})
		}
	}

	fields := map[string]string{"date": dayStart.Format("2006-01-02")}
	for status, line := range report.Summary {
		fields[string(status)] = fmt.Sprintf("%d/%s", line.Count, line.Amount.StringFixed(2))
	}
	s.alert(ctx, report, notify.Alert{
		Kind:    notify.AlertReconciliationStat,
		Message: "daily reconciliation summary",
		Fields:  fields,
		At:      asOf,
	})
	return nil
}

// senderPatterns detects suspicious behavior over the trailing 24 hours:
// high transaction velocity, repeated failures, and the small-test-then-
// large-amount fraud signature.
func (s *Service) senderPatterns(ctx context.Context, asOf time.Time, report *Report) error {
	payments, err := s.repo.FindByCriteria(ctx, repository.Criteria{
		InitiatedAfter:  asOf.Add(-24 * time.Hour),
		InitiatedBefore: asOf,
	})
	if err != nil {
		return fmt.Errorf("list trailing day: %w", err)
	}

	bySender := map[string][]*domain.Payment{}
	for _, p := range payments {
		bySender[p.Sender.AccountNumber] = append(bySender[p.Sender.AccountNumber], p)
	}

	for sender, txs := range bySender {
		if len(txs) > s.cfg.VelocityCount {
			s.alert(ctx, report, notify.Alert{
				Kind:    notify.AlertHighVelocity,
				Account: sender,
				Message: fmt.Sprintf("%d transactions in 24h", len(txs)),
				At:      asOf,
			})
		}

		var failures int
		for _, p := range txs {
			if p.Status == domain.StatusFailed {
				failures++
			}
		}
		if failures >= s.cfg.FailureCount {
			s.alert(ctx, report, notify.Alert{
				Kind:    notify.AlertRepeatedFailures,
				Account: sender,
				Message: fmt.Sprintf("%d failed transactions in 24h", failures),
				At:      asOf,
			})
		}

		s.detectTestThenLarge(ctx, sender, txs, asOf, report)
	}
	return nil
}

// detectTestThenLarge looks for a sub-ceiling probe followed shortly by a
// large transaction, the classic stolen-credential test pattern. Only
// senders with at least one completed payment qualify; a brand-new sender
// tripping this check would drown the alert channel.
func (s *Service) detectTestThenLarge(ctx context.Context, sender string, txs []*domain.Payment, asOf time.Time, report *Report) {
	var everCompleted bool
	for _, p := range txs {
		if p.Status == domain.StatusCompleted {
			everCompleted = true
			break
		}
	}
	if !everCompleted {
		return
	}

	for _, probe := range txs {
		if !probe.Amount.Value().LessThan(s.cfg.TestAmountCeiling) {
			continue
		}
		for _, follow := range txs {
			if follow.ID == probe.ID {
				continue
			}
			gap := follow.InitiatedAt.Sub(probe.InitiatedAt)
			if gap <= 0 || gap > s.cfg.TestFollowWindow {
				continue
			}
			if follow.Amount.Value().GreaterThan(s.cfg.LargeAmountFloor) {
				s.alert(ctx, report, notify.Alert{
					Kind:      notify.AlertTestThenLarge,
					Reference: follow.ReferenceNumber,
					Account:   sender,
					Message:   "small test transaction followed by a large one",
					Fields: map[string]string{
						"probe_reference": probe.ReferenceNumber,
						"probe_amount":    probe.Amount.Value().StringFixed(2),
						"follow_amount":   follow.Amount.Value().StringFixed(2),
						"gap":             gap.String(),
					},
					At: asOf,
				})
				return
			}
		}
	}
}

func (s *Service) alert(ctx context.Context, report *Report, alert notify.Alert) {
	if err := s.notifier.SendAlert(ctx, alert); err != nil {
		s.log.Warn("alert delivery failed",
			zap.String("kind", alert.Kind), zap.Error(err))
		return
	}
	report.AlertsSent++
}

func (s *Service) applyEffects(ctx context.Context, p *domain.Payment, effects []domain.Effect) {
	for _, fx := range effects {
		switch fx.Kind {
		case domain.EffectAudit:
			rec := repository.AuditRecord{
				EntityType: "payment",
				EntityID:   p.ID,
				Reference:  fx.Reference,
				Action:     "reconciled",
				PrevState:  string(fx.Prev),
				NextState:  string(fx.Next),
				Reason:     fx.Reason,
				CreatedAt:  time.Now().UTC(),
			}
			if err := s.repo.AppendAudit(ctx, rec); err != nil {
				s.log.Error("audit append failed",
					zap.String("reference", fx.Reference), zap.Error(err))
			}
		case domain.EffectNotify:
			if err := s.notifier.SendPaymentNotification(ctx, p, p.Sender.AccountNumber); err != nil {
				s.log.Warn("payment notification failed",
					zap.String("reference", fx.Reference), zap.Error(err))
			}
		}
	}
}
