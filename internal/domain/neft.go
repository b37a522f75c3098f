package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// NewUTRNumber mints a Unique Transaction Reference, assigned once the
// settlement system accepts a NEFT/RTGS transaction.
func NewUTRNumber() string {
	return "UTR" + ulid.Make().String()
}

// NEFTTransaction wraps a payment settling through the batched NEFT
// scheme. UTR and batch number are assigned post-acceptance.
type NEFTTransaction struct {
	PaymentDetails *Payment
	UTRNumber      string
	BatchNumber    string
	ReturnReason   string
	ErrorMessage   string
}

// Accept records the UTR assigned by the settlement system and the batch
// the transaction rode in.
func (t *NEFTTransaction) Accept(batchNumber string) {
	t.UTRNumber = NewUTRNumber()
	t.BatchNumber = batchNumber
	t.PaymentDetails.SetMetadata(MetaUTRNumber, t.UTRNumber)
	t.PaymentDetails.SetMetadata(MetaBatchNumber, batchNumber)
}

// RTGSTransaction wraps a high-value payment settled individually.
type RTGSTransaction struct {
	PaymentDetails *Payment
	UTRNumber      string
	ReturnReason   string
	ErrorMessage   string
}

// Accept records the UTR assigned on acceptance.
func (t *RTGSTransaction) Accept() {
	t.UTRNumber = NewUTRNumber()
	t.PaymentDetails.SetMetadata(MetaUTRNumber, t.UTRNumber)
}

// BatchStatus is the lifecycle of a NEFT settlement batch.
type BatchStatus string

const (
	BatchOpen      BatchStatus = "OPEN"
	BatchClosed    BatchStatus = "CLOSED"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchPartial   BatchStatus = "PARTIAL"
)

// Batch groups NEFT transactions for one settlement window. Membership is
// frozen once the batch closes at cutoff.
type Batch struct {
	ID              string
	CutoffTime      time.Time
	Status          BatchStatus
	TransactionIDs  []uuid.UUID
	Count           int
	TotalAmount     decimal.Decimal
	MaxTransactions int
}

// NewBatch creates an OPEN batch for the given cutoff. The batch id is
// derived from the cutoff so that slot assignment is deterministic and
// lock keys are stable.
func NewBatch(cutoff time.Time, maxTransactions int) *Batch {
	return &Batch{
		ID:              BatchNumberFor(cutoff),
		CutoffTime:      cutoff,
		Status:          BatchOpen,
		TotalAmount:     decimal.Zero,
		MaxTransactions: maxTransactions,
	}
}

// BatchNumberFor derives the batch id from a cutoff timestamp.
func BatchNumberFor(cutoff time.Time) string {
	return "NEFT-B-" + cutoff.UTC().Format("200601021504")
}

// Add joins a payment to the batch, keeping the running totals. Joining a
// non-OPEN batch or exceeding the cap is rejected; a full batch overflows
// into the next slot at the scheduler level.
func (b *Batch) Add(p *Payment) error {
	if b.Status != BatchOpen {
		return ErrBatchClosed
	}
	if b.MaxTransactions > 0 && b.Count >= b.MaxTransactions {
		return ErrBatchFull
	}
	b.TransactionIDs = append(b.TransactionIDs, p.ID)
	b.Count++
	b.TotalAmount = b.TotalAmount.Add(p.Amount.Value())
	return nil
}

// Close freezes membership at cutoff. Only a single writer may close a
// given batch; callers hold the batch lock.
func (b *Batch) Close() error {
	if b.Status != BatchOpen {
		return ErrBatchClosed
	}
	b.Status = BatchClosed
	return nil
}

// Finalize sets the terminal batch status from its members' outcomes:
// COMPLETED only if every member ended in a terminal success state.
func (b *Batch) Finalize(allSucceeded bool) error {
	if b.Status != BatchClosed {
		return fmt.Errorf("finalize batch %s: status %s", b.ID, b.Status)
	}
	if allSucceeded {
		b.Status = BatchCompleted
	} else {
		b.Status = BatchPartial
	}
	return nil
}
