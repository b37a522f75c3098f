package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"paycore/internal/domain"
	"paycore/internal/observability"
	"paycore/internal/repository"
	"paycore/internal/settlement"
)

// SettlementWorker polls for payments the saga has not yet carried to a
// submitted or terminal state and drives them across a pool of
// goroutines, one payment per goroutine. Claiming VALIDATED and
// PROCESSING alongside INITIATED resumes payments a crashed instance
// left mid-saga. NEFT payments are left for the batch worker;
// everything else settles immediately. Concurrent instances are safe:
// every saga step is idempotent on the reference number and every
// persist is a compare-and-swap.
type SettlementWorker struct {
	repo         repository.Repository
	orchestrator *settlement.Orchestrator
	pollInterval time.Duration
	workers      int
	batchSize    int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSettlementWorker(repo repository.Repository, orch *settlement.Orchestrator) *SettlementWorker {
	return &SettlementWorker{
		repo:         repo,
		orchestrator: orch,
		pollInterval: 5 * time.Second,
		workers:      4,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval updates the poll interval.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithWorkers sets the goroutine pool size.
func (w *SettlementWorker) WithWorkers(n int) *SettlementWorker {
	if n > 0 {
		w.workers = n
	}
	return w
}

// Start blocks and polls until the context is canceled or Stop is called.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int("workers", w.workers))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce drains one poll's worth of pending payments. Exposed for
// tests and manual triggering.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) error {
	pending, err := w.repo.FindByCriteria(ctx, repository.Criteria{
		Statuses: []domain.Status{domain.StatusInitiated, domain.StatusValidated, domain.StatusProcessing},
		Limit:    w.batchSize,
	})
	if err != nil {
		return err
	}

	refs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range refs {
				if err := w.orchestrator.Process(ctx, ref); err != nil {
					w.logProcessError(ref, err)
				}
			}
		}()
	}

	for _, p := range pending {
		if p.Type == domain.TypeNEFT {
			continue
		}
		select {
		case <-ctx.Done():
			close(refs)
			wg.Wait()
			return ctx.Err()
		case refs <- p.ReferenceNumber:
		}
	}
	close(refs)
	wg.Wait()
	return nil
}

func (w *SettlementWorker) logProcessError(ref string, err error) {
	var compensation *domain.CompensationFailureError
	if errors.As(err, &compensation) {
		zap.L().Error("compensation exhausted, payment flagged for manual reconciliation",
			zap.String("reference", ref),
			zap.Int("attempts", compensation.Attempts),
			zap.Error(compensation.Err))
		return
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		// Another writer won the race; the payment will be re-read on the
		// next poll.
		zap.L().Debug("settlement lost version race", zap.String("reference", ref))
		return
	}
	zap.L().Error("settlement failed", zap.String("reference", ref), zap.Error(err))
}

func (w *SettlementWorker) runOnce(ctx context.Context) {
	if err := w.ProcessOnce(ctx); err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		zap.L().Error("settlement poll failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("settlement", "success")
}
