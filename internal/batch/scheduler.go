package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/locker"
	"paycore/internal/repository"
)

// Scheduler assigns NEFT payments to settlement-window batches and
// releases batches at cutoff. Closing is the one critical section this
// core owns: only a single writer may close-and-freeze a batch, enforced
// through the distributed lock.
type Scheduler struct {
	payments repository.Repository
	batches  repository.BatchRepository
	locks    locker.Locker
	cfg      config.Batch
	log      *zap.Logger
}

func NewScheduler(payments repository.Repository, batches repository.BatchRepository, locks locker.Locker, cfg config.Batch, log *zap.Logger) *Scheduler {
	return &Scheduler{
		payments: payments,
		batches:  batches,
		locks:    locks,
		cfg:      cfg,
		log:      log,
	}
}

// CutoffFor returns the earliest configured settlement slot at or after
// initiatedAt plus the hold time. Past the last slot of the day it wraps
// to the first slot of the next day. All slots are UTC.
func (s *Scheduler) CutoffFor(initiatedAt time.Time) time.Time {
	return s.firstSlotAtOrAfter(initiatedAt.UTC().Add(s.cfg.HoldTime))
}

// nextCutoff returns the configured slot strictly after cutoff, for
// overflow when a batch hits its cap.
func (s *Scheduler) nextCutoff(cutoff time.Time) time.Time {
	return s.firstSlotAtOrAfter(cutoff.Add(time.Minute))
}

func (s *Scheduler) firstSlotAtOrAfter(at time.Time) time.Time {
	for _, slot := range s.cfg.CutoffSlots {
		cutoff := time.Date(at.Year(), at.Month(), at.Day(), slot.Hour, slot.Minute, 0, 0, time.UTC)
		if !cutoff.Before(at) {
			return cutoff
		}
	}
	first := s.cfg.CutoffSlots[0]
	next := at.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), first.Hour, first.Minute, 0, 0, time.UTC)
}

// Assign places the payment in the batch for its computed cutoff. A full
// batch overflows into the next slot's batch, repeatedly if needed. The
// payment's version load must be current: Assign persists the batch
// number into payment metadata with a compare-and-swap.
func (s *Scheduler) Assign(ctx context.Context, p *domain.Payment) (*domain.Batch, error) {
	if p.Type != domain.TypeNEFT {
		return nil, fmt.Errorf("assign %s: only NEFT payments are batched", p.ReferenceNumber)
	}

	cutoff := s.CutoffFor(p.InitiatedAt)
	for {
		b, err := s.joinBatch(ctx, cutoff, p)
		if err == nil {
			expected := p.Version
			p.SetMetadata(domain.MetaBatchNumber, b.ID)
			if err := s.payments.Update(ctx, p, expected); err != nil {
				return nil, fmt.Errorf("record batch %s on %s: %w", b.ID, p.ReferenceNumber, err)
			}
			return b, nil
		}
		if errors.Is(err, domain.ErrBatchFull) || errors.Is(err, domain.ErrBatchClosed) {
			cutoff = s.nextCutoff(cutoff)
			continue
		}
		return nil, err
	}
}

// joinBatch adds the payment to the OPEN batch for cutoff, creating the
// batch on first use. The batch lock serializes concurrent joins so the
// cap holds exactly.
func (s *Scheduler) joinBatch(ctx context.Context, cutoff time.Time, p *domain.Payment) (*domain.Batch, error) {
	id := domain.BatchNumberFor(cutoff)
	release, err := s.locks.Acquire(ctx, "batch:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock batch %s: %w", id, err)
	}
	defer release()

	b, err := s.batches.GetBatch(ctx, id)
	if errors.Is(err, domain.ErrBatchNotFound) {
		b = domain.NewBatch(cutoff, s.cfg.MaxTransactions)
	} else if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", id, err)
	}

	if err := b.Add(p); err != nil {
		return nil, err
	}
	if err := s.batches.SaveBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("save batch %s: %w", id, err)
	}
	return b, nil
}

// ReleaseDue closes every OPEN batch whose cutoff has passed and returns
// the closed batches for settlement. A batch another instance is closing
// concurrently is skipped; it will be picked up as CLOSED elsewhere.
func (s *Scheduler) ReleaseDue(ctx context.Context, asOf time.Time) ([]*domain.Batch, error) {
	due, err := s.batches.DueOpenBatches(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due batches: %w", err)
	}

	var closed []*domain.Batch
	for _, b := range due {
		release, err := s.locks.Acquire(ctx, "batch:"+b.ID)
		if errors.Is(err, locker.ErrNotAcquired) {
			continue
		}
		if err != nil {
			return closed, fmt.Errorf("lock batch %s: %w", b.ID, err)
		}

		err = s.closeBatch(ctx, b)
		release()
		if err != nil {
			return closed, err
		}
		closed = append(closed, b)
		s.log.Info("batch closed",
			zap.String("batch", b.ID),
			zap.Int("count", b.Count),
			zap.String("total", b.TotalAmount.StringFixed(2)))
	}
	return closed, nil
}

func (s *Scheduler) closeBatch(ctx context.Context, b *domain.Batch) error {
	// Re-read under the lock: another instance may have closed it between
	// the listing and the lock grant.
	current, err := s.batches.GetBatch(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", b.ID, err)
	}
	if current.Status != domain.BatchOpen {
		*b = *current
		return nil
	}
	if err := current.Close(); err != nil {
		return err
	}
	if err := s.batches.SaveBatch(ctx, current); err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	*b = *current
	return nil
}

// ClosedBatches lists every batch awaiting settlement, including batches
// closed by an instance that crashed before settling its members.
func (s *Scheduler) ClosedBatches(ctx context.Context) ([]*domain.Batch, error) {
	closed, err := s.batches.ClosedBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list closed batches: %w", err)
	}
	return closed, nil
}

// Members loads the batch's payments in join order.
func (s *Scheduler) Members(ctx context.Context, b *domain.Batch) ([]*domain.Payment, error) {
	out := make([]*domain.Payment, 0, len(b.TransactionIDs))
	for _, id := range b.TransactionIDs {
		p, err := s.payments.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load batch member %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// FinalizeIfSettled moves a CLOSED batch to its terminal status once every
// member has reached a terminal state: COMPLETED when all members
// completed, PARTIAL otherwise. Batches with members still in flight are
// left CLOSED for a later pass.
func (s *Scheduler) FinalizeIfSettled(ctx context.Context, b *domain.Batch) (bool, error) {
	if b.Status != domain.BatchClosed {
		return false, nil
	}
	members, err := s.Members(ctx, b)
	if err != nil {
		return false, err
	}

	allCompleted := true
	for _, m := range members {
		if !m.Status.Terminal() {
			return false, nil
		}
		if m.Status != domain.StatusCompleted {
			allCompleted = false
		}
	}

	if err := b.Finalize(allCompleted); err != nil {
		return false, err
	}
	if err := s.batches.SaveBatch(ctx, b); err != nil {
		return false, fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	s.log.Info("batch finalized", zap.String("batch", b.ID), zap.String("status", string(b.Status)))
	return true, nil
}
