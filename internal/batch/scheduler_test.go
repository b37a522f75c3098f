package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/locker"
	"paycore/internal/repository"
)

func testBatchConfig() config.Batch {
	return config.Batch{
		HoldTime:        10 * time.Minute,
		CutoffSlots:     []config.Slot{{Hour: 10}, {Hour: 14}},
		MaxTransactions: 2,
		LockTTL:         5 * time.Second,
	}
}

func newTestScheduler(repo *repository.Memory) *Scheduler {
	return NewScheduler(repo, repo, locker.NewLocalLocker(), testBatchConfig(), zap.NewNop())
}

func neftPayment(t *testing.T, repo *repository.Memory, initiatedAt time.Time) *domain.Payment {
	t.Helper()
	party := func(account string) domain.PaymentParty {
		return domain.PaymentParty{AccountNumber: account, AccountName: "Holder", IFSCCode: "HDFC0001234"}
	}
	p := domain.NewPayment(domain.TypeNEFT, domain.MustAmount("2500.00", "INR"),
		party("11110000"), party("22220000"), "branch", "neft transfer", nil)
	p.InitiatedAt = initiatedAt
	require.NoError(t, repo.Save(context.Background(), p))
	return p
}

func TestCutoffFor(t *testing.T) {
	s := newTestScheduler(repository.NewMemory())
	day := func(h, m int) time.Time { return time.Date(2024, 3, 15, h, m, 0, 0, time.UTC) }

	// Hold time pushes 09:30 to 09:40, landing in the 10:00 slot.
	assert.Equal(t, day(10, 0), s.CutoffFor(day(9, 30)))
	// 09:55 plus hold misses 10:00 and falls through to 14:00.
	assert.Equal(t, day(14, 0), s.CutoffFor(day(9, 55)))
	// Past the last slot of the day wraps to the next day's first slot.
	assert.Equal(t, time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC), s.CutoffFor(day(13, 55)))
	// Exactly on the boundary still makes the slot.
	assert.Equal(t, day(10, 0), s.CutoffFor(day(9, 50)))
}

func TestAssign(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestScheduler(repo)
	p := neftPayment(t, repo, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC))

	b, err := s.Assign(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "NEFT-B-202403151000", b.ID)
	assert.Equal(t, 1, b.Count)
	assert.Equal(t, b.ID, p.Metadata[domain.MetaBatchNumber])

	stored, err := repo.FindByReference(context.Background(), p.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.Metadata[domain.MetaBatchNumber])
	assert.Equal(t, p.Version, stored.Version)
}

func TestAssign_RejectsNonNEFT(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestScheduler(repo)
	p := domain.NewPayment(domain.TypeIMPS, domain.MustAmount("2500.00", "INR"),
		domain.PaymentParty{AccountNumber: "11110000", AccountName: "Holder"},
		domain.PaymentParty{AccountNumber: "22220000", AccountName: "Holder"},
		"mobile", "imps", nil)

	_, err := s.Assign(context.Background(), p)
	assert.Error(t, err)
}

func TestAssign_OverflowsFullBatch(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestScheduler(repo)
	initiated := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	first, err := s.Assign(context.Background(), neftPayment(t, repo, initiated))
	require.NoError(t, err)
	second, err := s.Assign(context.Background(), neftPayment(t, repo, initiated))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Count)

	// The cap is reached, so the third payment spills to the 14:00 batch.
	third, err := s.Assign(context.Background(), neftPayment(t, repo, initiated))
	require.NoError(t, err)
	assert.Equal(t, "NEFT-B-202403151400", third.ID)
	assert.Equal(t, 1, third.Count)
}

func TestReleaseDue(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestScheduler(repo)
	ctx := context.Background()

	_, err := s.Assign(ctx, neftPayment(t, repo, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = s.Assign(ctx, neftPayment(t, repo, time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	closed, err := s.ReleaseDue(ctx, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "NEFT-B-202403151000", closed[0].ID)
	assert.Equal(t, domain.BatchClosed, closed[0].Status)

	// The 14:00 batch is not due yet and stays open.
	later, err := repo.GetBatch(ctx, "NEFT-B-202403151400")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchOpen, later.Status)
}

func TestFinalizeIfSettled(t *testing.T) {
	repo := repository.NewMemory()
	s := newTestScheduler(repo)
	ctx := context.Background()
	initiated := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	a := neftPayment(t, repo, initiated)
	b := neftPayment(t, repo, initiated)
	_, err := s.Assign(ctx, a)
	require.NoError(t, err)
	batch, err := s.Assign(ctx, b)
	require.NoError(t, err)

	closed, err := s.ReleaseDue(ctx, batch.CutoffTime)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	// One member still in flight keeps the batch CLOSED.
	done, err := s.FinalizeIfSettled(ctx, closed[0])
	require.NoError(t, err)
	assert.False(t, done)

	a.Status = domain.StatusCompleted
	require.NoError(t, repo.Update(ctx, a, a.Version))
	b.Status = domain.StatusFailed
	require.NoError(t, repo.Update(ctx, b, b.Version))

	done, err = s.FinalizeIfSettled(ctx, closed[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, domain.BatchPartial, closed[0].Status)

	stored, err := repo.GetBatch(ctx, closed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartial, stored.Status)
}
