/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * state access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific storage
 * implementation (an in-memory store for this mock), making the code more modular
 * and easier to test.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/freerider/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrVirtualAccountNotFound = errors.New("virtual account not found")
	ErrDuplicateAccountNumber = errors.New("virtual account number already in use")
)

// Repository defines the set of methods for interacting with ledger state.
// Every mutation to a given bank account is serialized per account key so
// that balance-check-then-debit sequences are atomic.
type Repository interface {
	// Bank account ledger methods
	FindAccount(ctx context.Context, bank, accountNumber string) (*domain.BankAccount, error)
	ListAccounts(ctx context.Context) ([]domain.BankAccount, error)
	// DebitAccount subtracts amount only if balance >= amount holds at the
	// moment of mutation; there is no partial debit.
	DebitAccount(ctx context.Context, bank, accountNumber string, amount int64) (newBalance int64, err error)
	// PIN lockout bookkeeping. Semantically a no-op when maxAttempts <= 0.
	RecordFailedPINAttempt(ctx context.Context, bank, accountNumber string, maxAttempts, lockoutSeconds int) (*domain.BankAccount, error)
	ResetPINFailureState(ctx context.Context, bank, accountNumber string) error

	// Virtual account registry methods
	CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error
	FindVirtualAccount(ctx context.Context, accountNumber string) (*domain.VirtualAccount, error)
	// DeleteExpiredVirtualAccounts reclaims every logically expired entry and
	// returns them so the caller can announce the expiries.
	DeleteExpiredVirtualAccounts(ctx context.Context) ([]domain.VirtualAccount, error)

	// Transaction history methods
	AppendTransaction(ctx context.Context, record domain.TransactionRecord) error
	RecentTransactions(ctx context.Context, limit int) ([]domain.TransactionRecord, error)
}
