package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
)

// Criteria filters payments in FindByCriteria. Zero values mean "any".
type Criteria struct {
	Statuses        []domain.Status
	Types           []domain.PaymentType
	SenderAccount   string
	InitiatedAfter  time.Time
	InitiatedBefore time.Time
	Limit           int
}

// AuditRecord is one immutable audit-trail entry for a state transition.
type AuditRecord struct {
	EntityType string
	EntityID   uuid.UUID
	Reference  string
	Action     string
	PrevState  string
	NextState  string
	Reason     string
	CreatedAt  time.Time
}

// Repository is the abstract payment store. Update performs a
// compare-and-swap on the version column: passing the version the caller
// loaded guarantees that a concurrent writer's transition aborts with
// ErrVersionConflict instead of being silently overwritten.
type Repository interface {
	Save(ctx context.Context, p *domain.Payment) error
	Update(ctx context.Context, p *domain.Payment, expectedVersion int64) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByReference(ctx context.Context, reference string) (*domain.Payment, error)
	FindByCriteria(ctx context.Context, c Criteria) ([]*domain.Payment, error)
	GetDailyAmount(ctx context.Context, account string, t domain.PaymentType, day time.Time) (decimal.Decimal, error)
	GetMonthlyAmount(ctx context.Context, account string, t domain.PaymentType, month time.Time) (decimal.Decimal, error)
	RecentBySender(ctx context.Context, account string, limit int) ([]*domain.Payment, error)
	AppendAudit(ctx context.Context, rec AuditRecord) error
}

// BatchRepository stores NEFT settlement batches. ClosedBatches returns
// CLOSED batches in cutoff order so a restarted worker resumes settling
// batches that were closed before a crash.
type BatchRepository interface {
	SaveBatch(ctx context.Context, b *domain.Batch) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	DueOpenBatches(ctx context.Context, asOf time.Time) ([]*domain.Batch, error)
	ClosedBatches(ctx context.Context) ([]*domain.Batch, error)
}

// usageCounted reports whether a payment in this status consumes the
// sender's daily/monthly ceiling. Rejected and cancelled payments do not.
func usageCounted(s domain.Status) bool {
	switch s {
	case domain.StatusFailed, domain.StatusCancelled, domain.StatusReturned:
		return false
	}
	return true
}
