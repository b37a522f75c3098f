package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
)

// Memory is an in-process Repository and BatchRepository used by tests and
// local runs. Behavior mirrors the Postgres implementation, including the
// version compare-and-swap.
type Memory struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.Payment
	byRef    map[string]uuid.UUID
	batches  map[string]*domain.Batch
	audit    []AuditRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		payments: map[uuid.UUID]*domain.Payment{},
		byRef:    map[string]uuid.UUID{},
		batches:  map[string]*domain.Batch{},
	}
}

func (m *Memory) Save(ctx context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[p.ReferenceNumber]; ok {
		return domain.ErrDuplicateReference
	}
	m.payments[p.ID] = clonePayment(p)
	m.byRef[p.ReferenceNumber] = p.ID
	return nil
}

func (m *Memory) Update(ctx context.Context, p *domain.Payment, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *Memory) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (m *Memory) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(m.payments[id]), nil
}

func (m *Memory) FindByCriteria(ctx context.Context, c Criteria) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if !matches(p, c) {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

func matches(p *domain.Payment, c Criteria) bool {
	if len(c.Statuses) > 0 && !containsStatus(c.Statuses, p.Status) {
		return false
	}
	if len(c.Types) > 0 && !containsType(c.Types, p.Type) {
		return false
	}
	if c.SenderAccount != "" && p.Sender.AccountNumber != c.SenderAccount {
		return false
	}
	if !c.InitiatedAfter.IsZero() && p.InitiatedAt.Before(c.InitiatedAfter) {
		return false
	}
	if !c.InitiatedBefore.IsZero() && !p.InitiatedAt.Before(c.InitiatedBefore) {
		return false
	}
	return true
}

func (m *Memory) GetDailyAmount(ctx context.Context, account string, t domain.PaymentType, day time.Time) (decimal.Decimal, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return m.sumWindow(account, t, start, start.AddDate(0, 0, 1)), nil
}

func (m *Memory) GetMonthlyAmount(ctx context.Context, account string, t domain.PaymentType, month time.Time) (decimal.Decimal, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return m.sumWindow(account, t, start, start.AddDate(0, 1, 0)), nil
}

func (m *Memory) sumWindow(account string, t domain.PaymentType, from, to time.Time) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, p := range m.payments {
		if p.Sender.AccountNumber != account || p.Type != t {
			continue
		}
		if !usageCounted(p.Status) {
			continue
		}
		if p.InitiatedAt.Before(from) || !p.InitiatedAt.Before(to) {
			continue
		}
		total = total.Add(p.Amount.Value())
	}
	return total
}

func (m *Memory) RecentBySender(ctx context.Context, account string, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.Sender.AccountNumber == account {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.After(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendAudit(ctx context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, rec)
	return nil
}

// AuditTrail returns a copy of the recorded audit entries, oldest first.
func (m *Memory) AuditTrail() []AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditRecord, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Memory) SaveBatch(ctx context.Context, b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = cloneBatch(b)
	return nil
}

func (m *Memory) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

func (m *Memory) DueOpenBatches(ctx context.Context, asOf time.Time) ([]*domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Batch
	for _, b := range m.batches {
		if b.Status == domain.BatchOpen && !b.CutoffTime.After(asOf) {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CutoffTime.Before(out[j].CutoffTime) })
	return out, nil
}

func (m *Memory) ClosedBatches(ctx context.Context) ([]*domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Batch
	for _, b := range m.batches {
		if b.Status == domain.BatchClosed {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CutoffTime.Before(out[j].CutoffTime) })
	return out, nil
}

func clonePayment(p *domain.Payment) *domain.Payment {
	copied := *p
	if p.Metadata != nil {
		copied.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			copied.Metadata[k] = v
		}
	}
	if p.FraudCheck != nil {
		fc := *p.FraudCheck
		fc.Flags = append([]string(nil), p.FraudCheck.Flags...)
		copied.FraudCheck = &fc
	}
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		copied.ProcessedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

func cloneBatch(b *domain.Batch) *domain.Batch {
	copied := *b
	copied.TransactionIDs = append([]uuid.UUID(nil), b.TransactionIDs...)
	return &copied
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []domain.PaymentType, t domain.PaymentType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
