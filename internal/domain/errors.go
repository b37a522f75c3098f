package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrDuplicateReference    = errors.New("duplicate reference number")
	ErrVersionConflict       = errors.New("payment version conflict")
	ErrBatchNotFound         = errors.New("batch not found")
	ErrBatchClosed           = errors.New("batch is closed")
	ErrBatchFull             = errors.New("batch is full")
	ErrFraudCheckExists      = errors.New("fraud check already recorded")
	ErrRefundExceedsOriginal = errors.New("refund amount exceeds original payment")
)

// ValidationError aggregates every rule the input breaks. It is returned
// before any side effect; the caller corrects the input and retries.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// LimitExceededError rejects a payment whose projected usage would break a
// configured ceiling. Scope names the ceiling breached (daily, monthly,
// per-transaction).
type LimitExceededError struct {
	Scope     string
	Limit     decimal.Decimal
	Projected decimal.Decimal
	Currency  string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: projected %s %s over ceiling %s %s",
		e.Scope, e.Projected.StringFixed(2), e.Currency, e.Limit.StringFixed(2), e.Currency)
}

// StateTransitionError marks an attempted transition outside the allowed
// edges. The aggregate is left unchanged; callers log it as critical since
// it indicates a defect or a lost race.
type StateTransitionError struct {
	From Status
	To   Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition: %s -> %s", e.From, e.To)
}

// GatewayConnectionError is a transient gateway failure, retried with
// backoff before the payment is failed.
type GatewayConnectionError struct {
	Err error
}

func (e *GatewayConnectionError) Error() string {
	return fmt.Sprintf("gateway connection error: %v", e.Err)
}
func (e *GatewayConnectionError) Unwrap() error { return e.Err }

// GatewayTimeoutError is a deadline hit on a gateway call, retried like a
// connection error.
type GatewayTimeoutError struct {
	Err error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("gateway timeout: %v", e.Err)
}
func (e *GatewayTimeoutError) Unwrap() error { return e.Err }

// GatewayAuthenticationError is fatal: never auto-retried, requires
// operator action.
type GatewayAuthenticationError struct {
	Err error
}

func (e *GatewayAuthenticationError) Error() string {
	return fmt.Sprintf("gateway authentication error: %v", e.Err)
}
func (e *GatewayAuthenticationError) Unwrap() error { return e.Err }

// RetryableGatewayError reports whether err is a transient gateway failure
// covered by the retry budget.
func RetryableGatewayError(err error) bool {
	var conn *GatewayConnectionError
	var timeout *GatewayTimeoutError
	return errors.As(err, &conn) || errors.As(err, &timeout)
}

// CompensationFailureError is the highest-severity outcome: a debit stuck
// without its matching re-credit after the retry budget was exhausted. It
// must never be absorbed into a plain FAILED; the payment carries a manual
// reconciliation marker so operators can locate it.
type CompensationFailureError struct {
	Reference string
	Attempts  int
	Err       error
}

func (e *CompensationFailureError) Error() string {
	return fmt.Sprintf("compensation failed for %s after %d attempts: %v", e.Reference, e.Attempts, e.Err)
}
func (e *CompensationFailureError) Unwrap() error { return e.Err }
