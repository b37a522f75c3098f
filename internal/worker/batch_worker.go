package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"paycore/internal/batch"
	"paycore/internal/domain"
	"paycore/internal/observability"
	"paycore/internal/repository"
	"paycore/internal/settlement"
)

// BatchWorker drives the NEFT pipeline: it assigns fresh NEFT payments to
// settlement-window batches, closes batches whose cutoff has passed,
// hands their members to the orchestrator, and finalizes batches once
// every member settles.
type BatchWorker struct {
	repo         repository.Repository
	scheduler    *batch.Scheduler
	orchestrator *settlement.Orchestrator
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewBatchWorker(repo repository.Repository, scheduler *batch.Scheduler, orch *settlement.Orchestrator) *BatchWorker {
	return &BatchWorker{
		repo:         repo,
		scheduler:    scheduler,
		orchestrator: orch,
		pollInterval: 30 * time.Second,
		batchSize:    200,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval updates the poll interval.
func (w *BatchWorker) WithPollInterval(interval time.Duration) *BatchWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start blocks and polls until the context is canceled or Stop is called.
func (w *BatchWorker) Start(ctx context.Context) {
	zap.L().Info("batch worker starting", zap.Duration("interval", w.pollInterval))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("batch worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("batch worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *BatchWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *BatchWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce performs one assignment-and-release cycle. Exposed for
// tests and manual triggering.
func (w *BatchWorker) ProcessOnce(ctx context.Context) error {
	if err := w.assignPending(ctx); err != nil {
		return err
	}
	return w.releaseDue(ctx, time.Now().UTC())
}

// assignPending places unassigned INITIATED NEFT payments into their
// settlement batches.
func (w *BatchWorker) assignPending(ctx context.Context) error {
	pending, err := w.repo.FindByCriteria(ctx, repository.Criteria{
		Statuses: []domain.Status{domain.StatusInitiated},
		Types:    []domain.PaymentType{domain.TypeNEFT},
		Limit:    w.batchSize,
	})
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.Metadata[domain.MetaBatchNumber] != "" {
			continue
		}
		if _, err := w.scheduler.Assign(ctx, p); err != nil {
			zap.L().Error("batch assignment failed",
				zap.String("reference", p.ReferenceNumber), zap.Error(err))
		}
	}
	return nil
}

// releaseDue closes due batches, then settles and finalizes every CLOSED
// batch. Settling by CLOSED status rather than by what this cycle closed
// means a batch closed by a crashed instance is picked up on the next
// cycle.
func (w *BatchWorker) releaseDue(ctx context.Context, asOf time.Time) error {
	released, err := w.scheduler.ReleaseDue(ctx, asOf)
	if err != nil {
		return err
	}
	for _, b := range released {
		observability.ObserveBatchSize(b.Count)
	}

	closed, err := w.scheduler.ClosedBatches(ctx)
	if err != nil {
		return err
	}
	for _, b := range closed {
		members, err := w.scheduler.Members(ctx, b)
		if err != nil {
			zap.L().Error("loading batch members failed",
				zap.String("batch", b.ID), zap.Error(err))
			continue
		}
		for _, m := range members {
			if err := w.orchestrator.Process(ctx, m.ReferenceNumber); err != nil {
				zap.L().Error("batch member settlement failed",
					zap.String("batch", b.ID),
					zap.String("reference", m.ReferenceNumber),
					zap.Error(err))
			}
		}

		done, err := w.scheduler.FinalizeIfSettled(ctx, b)
		if err != nil {
			zap.L().Error("batch finalization failed",
				zap.String("batch", b.ID), zap.Error(err))
			continue
		}
		if done {
			observability.IncrementBatchStatus(string(b.Status))
		}
	}
	return nil
}

func (w *BatchWorker) runOnce(ctx context.Context) {
	if err := w.ProcessOnce(ctx); err != nil {
		observability.IncrementWorkerRun("batch", "failed")
		zap.L().Error("batch cycle failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("batch", "success")
}
