package account

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"paycore/internal/domain"
)

// Memory is an in-process AccountService used by tests and local runs.
// Applied references are remembered so debit/credit replays are no-ops,
// matching the idempotency the real collaborator guarantees.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	inactive map[string]bool
	applied  map[string]struct{}

	// FailDebitRefs / FailCreditRefs force failures for specific refs.
	FailDebitRefs  map[string]bool
	FailCreditRefs map[string]bool
}

// NewMemory creates an account service with no accounts.
func NewMemory() *Memory {
	return &Memory{
		balances:       map[string]decimal.Decimal{},
		inactive:       map[string]bool{},
		applied:        map[string]struct{}{},
		FailDebitRefs:  map[string]bool{},
		FailCreditRefs: map[string]bool{},
	}
}

// SetBalance seeds an account.
func (m *Memory) SetBalance(accountNumber string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountNumber] = balance
}

// Deactivate marks an account inactive.
func (m *Memory) Deactivate(accountNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactive[accountNumber] = true
}

// Balance returns the current balance for assertions.
func (m *Memory) Balance(accountNumber string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountNumber]
}

// TotalBalance sums every account, for conservation checks.
func (m *Memory) TotalBalance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, b := range m.balances {
		total = total.Add(b)
	}
	return total
}

func (m *Memory) ValidateAccount(ctx context.Context, accountNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[accountNumber]; !ok {
		return false, nil
	}
	return !m.inactive[accountNumber], nil
}

func (m *Memory) CheckBalance(ctx context.Context, accountNumber string, amount domain.PaymentAmount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[accountNumber]
	if !ok {
		return false, ErrAccountNotFound
	}
	return balance.GreaterThanOrEqual(amount.Value()), nil
}

func (m *Memory) DebitAccount(ctx context.Context, accountNumber string, amount domain.PaymentAmount, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.applied["debit:"+ref]; done {
		return nil
	}
	if m.FailDebitRefs[ref] {
		return ErrInsufficientFunds
	}
	balance, ok := m.balances[accountNumber]
	if !ok {
		return ErrAccountNotFound
	}
	if balance.LessThan(amount.Value()) {
		return ErrInsufficientFunds
	}
	m.balances[accountNumber] = balance.Sub(amount.Value())
	m.applied["debit:"+ref] = struct{}{}
	return nil
}

func (m *Memory) CreditAccount(ctx context.Context, accountNumber string, amount domain.PaymentAmount, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.applied["credit:"+ref]; done {
		return nil
	}
	if m.FailCreditRefs[ref] {
		return ErrAccountNotFound
	}
	balance, ok := m.balances[accountNumber]
	if !ok {
		return ErrAccountNotFound
	}
	m.balances[accountNumber] = balance.Add(amount.Value())
	m.applied["credit:"+ref] = struct{}{}
	return nil
}
