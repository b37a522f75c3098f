// Package notify carries settlement notifications and reconciliation
// alerts to the outside world. Delivery is fire-and-forget: a failed send
// never blocks or rolls back settlement.
package notify

import (
	"context"
	"time"

	"paycore/internal/domain"
)

// Alert is an operational finding from the reconciliation sweep or the
// fraud pipeline, routed to the audit/notification collaborators.
type Alert struct {
	Kind      string            `json:"kind"`
	Reference string            `json:"reference,omitempty"`
	Account   string            `json:"account,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Alert kinds emitted by this core.
const (
	AlertAbnormalAmount     = "abnormal_amount"
	AlertHighVelocity       = "high_velocity_sender"
	AlertRepeatedFailures   = "repeated_failures"
	AlertTestThenLarge      = "test_then_large"
	AlertManualReconNeeded  = "needs_manual_reconciliation"
	AlertReconciliationStat = "reconciliation_summary"
)

// Notifier is the NotificationService collaborator contract.
type Notifier interface {
	SendPaymentNotification(ctx context.Context, p *domain.Payment, recipient string) error
	SendAlert(ctx context.Context, alert Alert) error
}

// Noop discards everything. Used when no broker is configured.
type Noop struct{}

func (Noop) SendPaymentNotification(ctx context.Context, p *domain.Payment, recipient string) error {
	return nil
}

func (Noop) SendAlert(ctx context.Context, alert Alert) error { return nil }
