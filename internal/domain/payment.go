package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType is the settlement scheme a payment rides on.
type PaymentType string

const (
	TypeUPI              PaymentType = "UPI"
	TypeNEFT             PaymentType = "NEFT"
	TypeRTGS             PaymentType = "RTGS"
	TypeIMPS             PaymentType = "IMPS"
	TypeInternalTransfer PaymentType = "INTERNAL_TRANSFER"
	TypeBillPayment      PaymentType = "BILL_PAYMENT"
	TypeMerchantPayment  PaymentType = "MERCHANT_PAYMENT"
)

// referencePrefixes must stay bit-exact: downstream systems parse the
// reference number by prefix.
var referencePrefixes = map[PaymentType]string{
	TypeUPI:              "UPI",
	TypeNEFT:             "NEFT",
	TypeRTGS:             "RTGS",
	TypeIMPS:             "IMPS",
	TypeInternalTransfer: "INT",
	TypeBillPayment:      "BILL",
	TypeMerchantPayment:  "MERCH",
}

// Metadata keys written by the orchestrator and reconciliation sweep.
const (
	MetaExternalRef      = "external_ref"
	MetaFailureReason    = "failure_reason"
	MetaNeedsManualRecon = "needs_manual_reconciliation"
	MetaRefundOf         = "refund_of"
	MetaRefundedBy       = "refunded_by"
	MetaRefundedAmount   = "refunded_amount"
	MetaUTRNumber        = "utr_number"
	MetaBatchNumber      = "batch_number"
	MetaPurposeCode      = "purpose_code"

	ReasonReconciliationTimeout = "reconciliation timeout"
	CompensationRefPrefix       = "ROLLBACK-"
)

// PaymentDetails is a closed union of type-specific payloads. Each variant
// carries only its required fields and validates at construction.
type PaymentDetails interface {
	detailKind() string
	Violations() []string
}

// UPIDetails addresses a UPI payment by Virtual Payment Address.
type UPIDetails struct {
	VPA        string `json:"vpa" validate:"required,contains=@"`
	MerchantID string `json:"merchant_id,omitempty"`
	Purpose    string `json:"purpose" validate:"required"`
}

func (UPIDetails) detailKind() string { return "upi" }

func (d UPIDetails) Violations() []string {
	var out []string
	if d.VPA == "" {
		out = append(out, "upi: vpa is required")
	} else if !strings.Contains(d.VPA, "@") {
		out = append(out, "upi: vpa must be in username@provider form")
	}
	if d.Purpose == "" {
		out = append(out, "upi: purpose is required")
	}
	return out
}

// BillDetails identifies the biller and bill for BILL_PAYMENT.
type BillDetails struct {
	BillerID   string     `json:"biller_id" validate:"required"`
	BillNumber string     `json:"bill_number" validate:"required"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

func (BillDetails) detailKind() string { return "bill" }

func (d BillDetails) Violations() []string {
	var out []string
	if d.BillerID == "" {
		out = append(out, "bill: biller id is required")
	}
	if d.BillNumber == "" {
		out = append(out, "bill: bill number is required")
	}
	return out
}

// Payment is the aggregate root. After creation it is mutated only by the
// settlement orchestrator, the batch scheduler and the reconciliation
// sweep; the initiating caller never touches it again. Version increments
// on every mutation and backs the compare-and-swap persist.
type Payment struct {
	ID              uuid.UUID
	Type            PaymentType
	Amount          PaymentAmount
	Sender          PaymentParty
	Receiver        PaymentParty
	Status          Status
	Channel         string
	ReferenceNumber string
	Description     string
	Details         PaymentDetails
	FraudCheck      *FraudCheck
	InitiatedAt     time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
	Metadata        map[string]string
	Version         int64
}

// NewPayment creates an INITIATED payment with a fresh reference number.
func NewPayment(t PaymentType, amount PaymentAmount, sender, receiver PaymentParty, channel, description string, details PaymentDetails) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:              uuid.New(),
		Type:            t,
		Amount:          amount,
		Sender:          sender,
		Receiver:        receiver,
		Status:          StatusInitiated,
		Channel:         channel,
		ReferenceNumber: NewReferenceNumber(t, now),
		Description:     description,
		Details:         details,
		InitiatedAt:     now,
		Metadata:        map[string]string{},
		Version:         1,
	}
}

// NewReferenceNumber builds {PREFIX}{YYYYMMDDHHMMSS}{8-char-uppercase-id}.
// The format is parsed downstream and must not change.
func NewReferenceNumber(t PaymentType, at time.Time) string {
	prefix, ok := referencePrefixes[t]
	if !ok {
		prefix = "PAY"
	}
	fragment := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + at.UTC().Format("20060102150405") + fragment
}

// TransitionTo moves the payment along a legal edge, bumping the version
// and stamping timestamps. On an illegal edge it returns a
// StateTransitionError and leaves the aggregate untouched. The returned
// effects are commands for the caller: an audit record always, plus a
// notification on terminal states.
func (p *Payment) TransitionTo(next Status, reason string) ([]Effect, error) {
	if !CanTransition(p.Status, next) {
		return nil, &StateTransitionError{From: p.Status, To: next}
	}
	prev := p.Status
	now := time.Now().UTC()
	p.Status = next
	p.Version++
	switch next {
	case StatusProcessing:
		p.ProcessedAt = &now
	case StatusCompleted, StatusFailed, StatusReturned, StatusCancelled, StatusRefunded:
		p.CompletedAt = &now
	}
	if reason != "" && (next == StatusFailed || next == StatusReturned) {
		p.setMeta(MetaFailureReason, reason)
	}
	effects := []Effect{{
		Kind:      EffectAudit,
		Reference: p.ReferenceNumber,
		Prev:      prev,
		Next:      next,
		Reason:    reason,
	}}
	if next.Terminal() {
		effects = append(effects, Effect{
			Kind:      EffectNotify,
			Reference: p.ReferenceNumber,
			Prev:      prev,
			Next:      next,
			Reason:    reason,
		})
	}
	return effects, nil
}

// CanProcess is the orchestrator's entry guard: the payment must still be
// INITIATED, carry a positive amount, and must not have been scored at or
// above the configured fraud fail level.
func (p *Payment) CanProcess(failLevel RiskLevel) bool {
	if p.Status != StatusInitiated {
		return false
	}
	if !p.Amount.Value().IsPositive() {
		return false
	}
	if p.FraudCheck != nil && p.FraudCheck.RiskLevel.AtLeast(failLevel) {
		return false
	}
	return true
}

// AttachFraudCheck records the one-time risk result. A CRITICAL result
// immediately fails the payment.
func (p *Payment) AttachFraudCheck(fc FraudCheck) ([]Effect, error) {
	if p.FraudCheck != nil {
		return nil, ErrFraudCheckExists
	}
	copied := fc
	p.FraudCheck = &copied
	p.Version++
	if fc.RiskLevel == RiskCritical {
		return p.TransitionTo(StatusFailed, "fraud check critical")
	}
	return nil, nil
}

// Cancel is permitted only before external submission.
func (p *Payment) Cancel(reason string) ([]Effect, error) {
	if p.Status != StatusInitiated && p.Status != StatusPendingExternal {
		return nil, &StateTransitionError{From: p.Status, To: StatusCancelled}
	}
	return p.TransitionTo(StatusCancelled, reason)
}

// Refund creates a sender/receiver-swapped payment for amount. Partial
// refunds leave the original COMPLETED and accumulate under
// MetaRefundedAmount; the refund that brings the cumulative total to the
// full amount flips the original to REFUNDED. A refund whose cumulative
// total would exceed the original is rejected. The two payments are
// linked through metadata.
func (p *Payment) Refund(amount PaymentAmount, reason string) (*Payment, []Effect, error) {
	if p.Status != StatusCompleted {
		return nil, nil, &StateTransitionError{From: p.Status, To: StatusRefunded}
	}
	if amount.Currency() != p.Amount.Currency() {
		return nil, nil, ErrRefundExceedsOriginal
	}
	refunded := decimal.Zero
	if prior := p.Metadata[MetaRefundedAmount]; prior != "" {
		d, err := decimal.NewFromString(prior)
		if err != nil {
			return nil, nil, fmt.Errorf("parse refunded amount %q: %w", prior, err)
		}
		refunded = d
	}
	total := refunded.Add(amount.Value())
	if total.GreaterThan(p.Amount.Value()) {
		return nil, nil, ErrRefundExceedsOriginal
	}

	refund := NewPayment(p.Type, amount, p.Receiver, p.Sender, p.Channel, "refund: "+reason, p.Details)
	refund.setMeta(MetaRefundOf, p.ReferenceNumber)

	p.setMeta(MetaRefundedBy, refund.ReferenceNumber)
	p.setMeta(MetaRefundedAmount, total.StringFixed(2))
	p.Version++

	var effects []Effect
	if total.Equal(p.Amount.Value()) {
		fx, err := p.TransitionTo(StatusRefunded, reason)
		if err != nil {
			return nil, nil, err
		}
		effects = fx
	}
	return refund, effects, nil
}

// MarkManualReconciliation tags the payment for deterministic operator
// lookup after a compensation failure.
func (p *Payment) MarkManualReconciliation(reason string) {
	p.setMeta(MetaNeedsManualRecon, "true")
	p.setMeta(MetaFailureReason, reason)
	p.Version++
}

// NeedsManualReconciliation reports the compensation-failure marker.
func (p *Payment) NeedsManualReconciliation() bool {
	return p.Metadata[MetaNeedsManualRecon] == "true"
}

// SetMetadata records a key and bumps the version.
func (p *Payment) SetMetadata(key, value string) {
	p.setMeta(key, value)
	p.Version++
}

func (p *Payment) setMeta(key, value string) {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata[key] = value
}
