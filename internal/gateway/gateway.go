package gateway

import (
	"context"

	"paycore/internal/domain"
)

// SubmitStatus is the gateway's verdict on a submitted payment.
type SubmitStatus string

const (
	SubmitAccepted SubmitStatus = "ACCEPTED"
	SubmitRejected SubmitStatus = "REJECTED"
)

// VerifyStatus is the gateway's view of a previously submitted payment.
type VerifyStatus string

const (
	VerifyPending   VerifyStatus = "PENDING"
	VerifyCompleted VerifyStatus = "COMPLETED"
	VerifyFailed    VerifyStatus = "FAILED"
	VerifyReturned  VerifyStatus = "RETURNED"
	VerifyUnknown   VerifyStatus = "UNKNOWN"
)

// SubmitResult carries the gateway acceptance and its external reference.
type SubmitResult struct {
	Status      SubmitStatus
	ExternalRef string
}

// VerifyResult is the response to a status query by reference/UTR.
type VerifyResult struct {
	Status      VerifyStatus
	ExternalRef string
}

// Service is the external settlement gateway contract. Submissions are
// idempotent on the payment's reference number. Connection failures and
// deadline hits surface as the typed gateway errors in internal/domain so
// the orchestrator can tell transient from fatal.
type Service interface {
	SubmitPayment(ctx context.Context, p *domain.Payment) (SubmitResult, error)
	VerifyTransaction(ctx context.Context, reference string) (VerifyResult, error)
}
