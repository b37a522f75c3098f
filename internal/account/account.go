// Package account defines the contract to the external account/balance
// owner. This core never stores balances: debit and credit are remote
// atomic calls, idempotent on the supplied reference.
package account

import (
	"context"
	"errors"

	"paycore/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Service is the AccountService collaborator contract.
type Service interface {
	ValidateAccount(ctx context.Context, accountNumber string) (bool, error)
	CheckBalance(ctx context.Context, accountNumber string, amount domain.PaymentAmount) (bool, error)
	// DebitAccount and CreditAccount must be idempotent on ref: replaying
	// the same (account, amount, ref) moves money at most once.
	DebitAccount(ctx context.Context, accountNumber string, amount domain.PaymentAmount, ref string) error
	CreditAccount(ctx context.Context, accountNumber string, amount domain.PaymentAmount, ref string) error
}
