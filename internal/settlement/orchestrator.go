package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paycore/internal/account"
	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/fraud"
	"paycore/internal/gateway"
	"paycore/internal/notify"
	"paycore/internal/observability"
	"paycore/internal/repository"
	"paycore/internal/validation"
)

// Orchestrator drives the settlement saga for one payment at a time. Every
// step is idempotent on the reference number: account debits and credits
// replay as no-ops, gateway submission is idempotent on the reference, and
// each persisted transition is a compare-and-swap on the version column.
// Restarting mid-saga resumes from the persisted status and never moves
// money twice.
type Orchestrator struct {
	repo      repository.Repository
	accounts  account.Service
	gateway   gateway.Service
	notifier  notify.Notifier
	validator *validation.Validator
	limits    *validation.LimitGuard
	engine    *fraud.Engine
	cfg       *config.Config
	log       *zap.Logger
}

func NewOrchestrator(
	repo repository.Repository,
	accounts account.Service,
	gw gateway.Service,
	notifier notify.Notifier,
	validator *validation.Validator,
	limits *validation.LimitGuard,
	engine *fraud.Engine,
	cfg *config.Config,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		accounts:  accounts,
		gateway:   gw,
		notifier:  notifier,
		validator: validator,
		limits:    limits,
		engine:    engine,
		cfg:       cfg,
		log:       log,
	}
}

// Initiate validates client intent, persists the INITIATED payment and
// returns it. The caller never mutates the payment afterwards; it is
// picked up by a settlement worker (or the batch scheduler for NEFT).
func (o *Orchestrator) Initiate(ctx context.Context, p *domain.Payment) error {
	if err := o.validator.Validate(p); err != nil {
		return err
	}
	if err := o.limits.CheckLimits(ctx, p); err != nil {
		return err
	}
	if err := o.repo.Save(ctx, p); err != nil {
		return fmt.Errorf("save payment %s: %w", p.ReferenceNumber, err)
	}
	o.log.Info("payment initiated",
		zap.String("reference", p.ReferenceNumber),
		zap.String("type", string(p.Type)),
		zap.String("amount", p.Amount.String()))
	return nil
}

// Process runs the saga for one payment until it reaches a terminal state
// or an unrecoverable infrastructure error. Safe to call on a payment in
// any state; terminal and mid-saga states resume where they left off.
func (o *Orchestrator) Process(ctx context.Context, reference string) error {
	p, err := o.repo.FindByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", reference, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch p.Status {
		case domain.StatusInitiated:
			err = o.stepValidate(ctx, p)
		case domain.StatusValidated:
			err = o.stepStartProcessing(ctx, p)
		case domain.StatusProcessing:
			err = o.stepSubmit(ctx, p)
		case domain.StatusPendingExternal:
			err = o.stepMoveMoney(ctx, p)
		default:
			// Terminal; nothing left to do.
			return nil
		}
		if err != nil {
			observability.IncrementSettlement(string(p.Type), "error")
			return err
		}
		if p.Status.Terminal() {
			observability.IncrementSettlement(string(p.Type), string(p.Status))
			return nil
		}
	}
}

// stepValidate scores fraud risk, enforces the processing guard and
// checks the sender account, then moves INITIATED to VALIDATED.
func (o *Orchestrator) stepValidate(ctx context.Context, p *domain.Payment) error {
	if p.FraudCheck == nil {
		if err := o.scoreFraud(ctx, p); err != nil {
			return err
		}
		if p.Status.Terminal() {
			// A CRITICAL fraud result fails the payment inside the aggregate.
			return nil
		}
	}

	if !p.CanProcess(failRiskLevel(o.cfg.Fraud.FailThreshold, o.cfg.Fraud)) {
		return o.failPayment(ctx, p, "blocked by risk policy")
	}

	active, err := o.accounts.ValidateAccount(ctx, p.Sender.AccountNumber)
	if err != nil {
		return fmt.Errorf("validate account %s: %w", p.Sender.AccountNumber, err)
	}
	if !active {
		return o.failPayment(ctx, p, "sender account inactive")
	}

	enough, err := o.accounts.CheckBalance(ctx, p.Sender.AccountNumber, p.Amount)
	if err != nil {
		return fmt.Errorf("check balance %s: %w", p.Sender.AccountNumber, err)
	}
	if !enough {
		return o.failPayment(ctx, p, "insufficient funds")
	}

	return o.persistTransition(ctx, p, domain.StatusValidated, "")
}

func (o *Orchestrator) stepStartProcessing(ctx context.Context, p *domain.Payment) error {
	return o.persistTransition(ctx, p, domain.StatusProcessing, "")
}

// stepSubmit hands the payment to the external gateway, or short-circuits
// to the money movement for same-bank internal transfers.
func (o *Orchestrator) stepSubmit(ctx context.Context, p *domain.Payment) error {
	if p.Type == domain.TypeInternalTransfer {
		return o.settleInternal(ctx, p)
	}

	var result gateway.SubmitResult
	start := time.Now()
	err := withGatewayRetry(ctx, o.cfg.Gateway, p.ReferenceNumber, func(ctx context.Context) error {
		var submitErr error
		result, submitErr = o.gateway.SubmitPayment(ctx, p)
		return submitErr
	})
	observability.ObserveGatewayCall("submit", time.Since(start))
	if err != nil {
		var authErr *domain.GatewayAuthenticationError
		if errors.As(err, &authErr) {
			// Operator problem, not a payment problem. Leave PROCESSING for
			// the reconciliation sweep once credentials are fixed.
			return fmt.Errorf("submit %s: %w", p.ReferenceNumber, err)
		}
		return o.failPayment(ctx, p, "gateway submission failed: "+err.Error())
	}
	if result.Status != gateway.SubmitAccepted {
		return o.failPayment(ctx, p, "rejected by gateway")
	}

	expected := p.Version
	fx, err := p.TransitionTo(domain.StatusPendingExternal, "")
	if err != nil {
		return err
	}
	p.SetMetadata(domain.MetaExternalRef, result.ExternalRef)
	switch p.Type {
	case domain.TypeNEFT:
		neft := &domain.NEFTTransaction{PaymentDetails: p}
		neft.Accept(p.Metadata[domain.MetaBatchNumber])
	case domain.TypeRTGS:
		rtgs := &domain.RTGSTransaction{PaymentDetails: p}
		rtgs.Accept()
	}
	if err := o.repo.Update(ctx, p, expected); err != nil {
		return fmt.Errorf("persist %s -> PENDING_EXTERNAL: %w", p.ReferenceNumber, err)
	}
	o.applyEffects(ctx, p, fx)
	return nil
}

// settleInternal moves money for a same-bank transfer without involving
// the external gateway: PROCESSING goes straight to COMPLETED.
func (o *Orchestrator) settleInternal(ctx context.Context, p *domain.Payment) error {
	if err := o.moveMoney(ctx, p); err != nil {
		return err
	}
	if p.Status.Terminal() {
		return nil
	}
	return o.persistTransition(ctx, p, domain.StatusCompleted, "")
}

// stepMoveMoney performs the debit/credit pair for an externally accepted
// payment, then completes it.
func (o *Orchestrator) stepMoveMoney(ctx context.Context, p *domain.Payment) error {
	if err := o.moveMoney(ctx, p); err != nil {
		return err
	}
	if p.Status.Terminal() {
		return nil
	}
	return o.persistTransition(ctx, p, domain.StatusCompleted, "")
}

// moveMoney is the two-legged transfer with compensation. Debit failure
// fails the payment outright: no money moved, nothing to undo. Credit
// failure after a successful debit triggers the sender re-credit under
// the rollback reference; only after that compensation lands is the
// payment failed. Exhausting the compensation budget surfaces a
// CompensationFailureError and flags the payment for manual
// reconciliation instead of silently failing it.
func (o *Orchestrator) moveMoney(ctx context.Context, p *domain.Payment) error {
	ref := p.ReferenceNumber

	if err := o.accounts.DebitAccount(ctx, p.Sender.AccountNumber, p.Amount, ref); err != nil {
		o.log.Warn("debit failed",
			zap.String("reference", ref),
			zap.String("account", p.Sender.AccountNumber),
			zap.Error(err))
		return o.failPayment(ctx, p, "debit failed: "+err.Error())
	}

	if err := o.accounts.CreditAccount(ctx, p.Receiver.AccountNumber, p.Amount, ref); err != nil {
		o.log.Warn("credit failed, compensating sender",
			zap.String("reference", ref),
			zap.String("account", p.Receiver.AccountNumber),
			zap.Error(err))
		if compErr := o.compensate(ctx, p); compErr != nil {
			return compErr
		}
		return o.failPayment(ctx, p, "credit failed: "+err.Error())
	}

	return nil
}

// compensate re-credits the sender the identical amount under the
// rollback reference, retried with exponential backoff. The rollback
// reference makes the re-credit idempotent and distinguishable in the
// sender's statement.
func (o *Orchestrator) compensate(ctx context.Context, p *domain.Payment) error {
	rollbackRef := domain.CompensationRefPrefix + p.ReferenceNumber
	backoff := o.cfg.Compensation.BackoffBase

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Compensation.MaxAttempts; attempt++ {
		lastErr = o.accounts.CreditAccount(ctx, p.Sender.AccountNumber, p.Amount, rollbackRef)
		if lastErr == nil {
			observability.IncrementCompensation("succeeded")
			o.log.Info("compensation credited",
				zap.String("reference", p.ReferenceNumber),
				zap.String("rollback_ref", rollbackRef),
				zap.Int("attempt", attempt))
			return nil
		}
		o.log.Error("compensation attempt failed",
			zap.String("reference", p.ReferenceNumber),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == o.cfg.Compensation.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = o.cfg.Compensation.MaxAttempts
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	observability.IncrementCompensation("exhausted")
	expected := p.Version
	p.MarkManualReconciliation("compensation failed: " + lastErr.Error())
	if err := o.repo.Update(ctx, p, expected); err != nil {
		o.log.Error("failed to persist manual reconciliation marker",
			zap.String("reference", p.ReferenceNumber), zap.Error(err))
	}
	return &domain.CompensationFailureError{
		Reference: p.ReferenceNumber,
		Attempts:  o.cfg.Compensation.MaxAttempts,
		Err:       lastErr,
	}
}

// Refund settles a refund for a COMPLETED payment: the aggregate produces
// the swapped payment, both are persisted, and the refund is processed as
// its own saga.
func (o *Orchestrator) Refund(ctx context.Context, reference string, amount domain.PaymentAmount, reason string) (*domain.Payment, error) {
	p, err := o.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", reference, err)
	}
	expected := p.Version
	refund, fx, err := p.Refund(amount, reason)
	if err != nil {
		return nil, err
	}
	if err := o.repo.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save refund %s: %w", refund.ReferenceNumber, err)
	}
	if err := o.repo.Update(ctx, p, expected); err != nil {
		return nil, fmt.Errorf("persist refund link on %s: %w", reference, err)
	}
	o.applyEffects(ctx, p, fx)

	if err := o.Process(ctx, refund.ReferenceNumber); err != nil {
		return refund, err
	}
	return refund, nil
}

// Cancel aborts a payment that has not yet been submitted externally.
func (o *Orchestrator) Cancel(ctx context.Context, reference, reason string) error {
	p, err := o.repo.FindByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", reference, err)
	}
	expected := p.Version
	fx, err := p.Cancel(reason)
	if err != nil {
		return err
	}
	if err := o.repo.Update(ctx, p, expected); err != nil {
		return fmt.Errorf("persist cancel on %s: %w", reference, err)
	}
	o.applyEffects(ctx, p, fx)
	return nil
}

func (o *Orchestrator) scoreFraud(ctx context.Context, p *domain.Payment) error {
	history, err := o.repo.RecentBySender(ctx, p.Sender.AccountNumber, o.cfg.Fraud.HistoryWindow)
	if err != nil {
		return fmt.Errorf("load sender history for %s: %w", p.ReferenceNumber, err)
	}
	check := o.engine.Score(p, history)
	observability.IncrementFraudCheck(string(check.RiskLevel))

	expected := p.Version
	fx, err := p.AttachFraudCheck(check)
	if err != nil {
		return err
	}
	if err := o.repo.Update(ctx, p, expected); err != nil {
		return fmt.Errorf("persist fraud check on %s: %w", p.ReferenceNumber, err)
	}
	o.applyEffects(ctx, p, fx)

	if len(check.Flags) > 0 {
		o.log.Warn("fraud signals on payment",
			zap.String("reference", p.ReferenceNumber),
			zap.Int("score", check.RiskScore),
			zap.Strings("flags", check.Flags),
			zap.String("level", string(check.RiskLevel)))
	}
	return nil
}

func (o *Orchestrator) failPayment(ctx context.Context, p *domain.Payment, reason string) error {
	return o.persistTransition(ctx, p, domain.StatusFailed, reason)
}

func (o *Orchestrator) persistTransition(ctx context.Context, p *domain.Payment, next domain.Status, reason string) error {
	expected := p.Version
	fx, err := p.TransitionTo(next, reason)
	if err != nil {
		return err
	}
	if err := o.repo.Update(ctx, p, expected); err != nil {
		return fmt.Errorf("persist %s -> %s: %w", p.ReferenceNumber, next, err)
	}
	observability.IncrementTransition(string(fx[0].Prev), string(next))
	o.applyEffects(ctx, p, fx)
	return nil
}

// applyEffects executes the commands emitted by the aggregate: audit
// records always, notifications fire-and-forget on terminal states.
func (o *Orchestrator) applyEffects(ctx context.Context, p *domain.Payment, effects []domain.Effect) {
	for _, fx := range effects {
		switch fx.Kind {
		case domain.EffectAudit:
			rec := repository.AuditRecord{
				EntityType: "payment",
				EntityID:   p.ID,
				Reference:  fx.Reference,
				Action:     "transition",
				PrevState:  string(fx.Prev),
				NextState:  string(fx.Next),
				Reason:     fx.Reason,
				CreatedAt:  time.Now().UTC(),
			}
			if err := o.repo.AppendAudit(ctx, rec); err != nil {
				o.log.Error("audit append failed",
					zap.String("reference", fx.Reference), zap.Error(err))
			}
		case domain.EffectNotify:
			if err := o.notifier.SendPaymentNotification(ctx, p, p.Sender.AccountNumber); err != nil {
				// Fire-and-forget: notification failure never rolls back
				// settlement.
				o.log.Warn("payment notification failed",
					zap.String("reference", fx.Reference), zap.Error(err))
			}
		}
	}
}

// failRiskLevel converts the configured fail threshold into the risk
// level at which processing is refused.
func failRiskLevel(threshold int, cfg config.Fraud) domain.RiskLevel {
	if threshold <= cfg.MediumThreshold {
		return domain.RiskMedium
	}
	return domain.RiskHigh
}
