/**
 * @description
 * This file contains the in-memory implementation of the `Repository` interface.
 * The ledger, the virtual account registry, and the transaction history are
 * process-wide mutable state shared across all concurrent requests; all of it
 * lives inside a single MemoryStore instance with an explicit lifecycle rather
 * than ambient globals. State is intentionally lost on restart.
 *
 * Locking discipline:
 * - Each bank account carries its own mutex, so balance-check-then-debit is
 *   atomic per account key and independent accounts never contend.
 * - The account map itself is read-mostly (seeded once, never shrunk) and is
 *   guarded by an RWMutex.
 * - The virtual account registry uses coarser RW locking; expiry is enforced
 *   logically at lookup time, with a sweep method for memory reclamation.
 * - The history has its own mutex; records are appended in arrival order.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"sync"
	"time"

	"github.com/freerider/ledger-service/internal/domain"
)

// accountEntry pairs one ledger record with the mutex that serializes every
// mutation against it.
type accountEntry struct {
	mu      sync.Mutex
	account domain.BankAccount
}

// MemoryStore is the single source of truth for ledger state. It satisfies
// the Repository interface.
type MemoryStore struct {
	now func() time.Time

	accountsMu sync.RWMutex
	accounts   map[string]*accountEntry
	seedOrder  []string

	virtualMu       sync.RWMutex
	virtualAccounts map[string]*domain.VirtualAccount

	historyMu sync.Mutex
	history   []domain.TransactionRecord
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with the given fixture accounts.
func NewMemoryStore(seeds ...domain.BankAccount) *MemoryStore {
	return NewMemoryStoreWithClock(time.Now, seeds...)
}

// NewMemoryStoreWithClock is like NewMemoryStore but uses the supplied clock
// for virtual account expiry and PIN lockout decisions. Tests use this to
// advance time across expiry boundaries deterministically.
func NewMemoryStoreWithClock(clock func() time.Time, seeds ...domain.BankAccount) *MemoryStore {
	s := &MemoryStore{
		now:             clock,
		accounts:        make(map[string]*accountEntry, len(seeds)),
		virtualAccounts: make(map[string]*domain.VirtualAccount),
	}
	for _, seed := range seeds {
		key := seed.Key()
		if _, exists := s.accounts[key]; exists {
			continue
		}
		s.accounts[key] = &accountEntry{account: seed}
		s.seedOrder = append(s.seedOrder, key)
	}
	return s
}

func (s *MemoryStore) entry(bank, accountNumber string) (*accountEntry, bool) {
	s.accountsMu.RLock()
	defer s.accountsMu.RUnlock()
	e, ok := s.accounts[bank+":"+accountNumber]
	return e, ok
}

// FindAccount returns a snapshot of the account, or ErrAccountNotFound.
func (s *MemoryStore) FindAccount(ctx context.Context, bank, accountNumber string) (*domain.BankAccount, error) {
	e, ok := s.entry(bank, accountNumber)
	if !ok {
		return nil, ErrAccountNotFound
	}
	e.mu.Lock()
	snapshot := e.account
	e.mu.Unlock()
	return &snapshot, nil
}

// ListAccounts returns snapshots of every ledger account in seed order.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]domain.BankAccount, error) {
	s.accountsMu.RLock()
	defer s.accountsMu.RUnlock()

	accounts := make([]domain.BankAccount, 0, len(s.seedOrder))
	for _, key := range s.seedOrder {
		e := s.accounts[key]
		e.mu.Lock()
		accounts = append(accounts, e.account)
		e.mu.Unlock()
	}
	return accounts, nil
}

// DebitAccount atomically subtracts amount if and only if the balance covers
// it at the moment of mutation. Two concurrent debits against the same
// account serialize here, so the balance can never go negative.
func (s *MemoryStore) DebitAccount(ctx context.Context, bank, accountNumber string, amount int64) (int64, error) {
	e, ok := s.entry(bank, accountNumber)
	if !ok {
		return 0, ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.account.Balance < amount {
		return e.account.Balance, ErrInsufficientFunds
	}
	e.account.Balance -= amount
	return e.account.Balance, nil
}

// RecordFailedPINAttempt increments the failed-attempt counter and applies a
// lockout window once maxAttempts is reached. An expired lockout resets the
// counter to one. The updated snapshot is returned.
func (s *MemoryStore) RecordFailedPINAttempt(ctx context.Context, bank, accountNumber string, maxAttempts, lockoutSeconds int) (*domain.BankAccount, error) {
	e, ok := s.entry(bank, accountNumber)
	if !ok {
		return nil, ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if maxAttempts <= 0 {
		snapshot := e.account
		return &snapshot, nil
	}

	now := s.now()
	if e.account.PINLockedUntil != nil && !e.account.PINLockedUntil.After(now) {
		e.account.FailedPINAttempts = 0
		e.account.PINLockedUntil = nil
	}

	e.account.FailedPINAttempts++
	if e.account.FailedPINAttempts >= maxAttempts {
		lockedUntil := now.Add(time.Duration(lockoutSeconds) * time.Second)
		e.account.PINLockedUntil = &lockedUntil
	}

	snapshot := e.account
	return &snapshot, nil
}

// ResetPINFailureState clears the failed-attempt counter and any lockout.
func (s *MemoryStore) ResetPINFailureState(ctx context.Context, bank, accountNumber string) error {
	e, ok := s.entry(bank, accountNumber)
	if !ok {
		return ErrAccountNotFound
	}
	e.mu.Lock()
	e.account.FailedPINAttempts = 0
	e.account.PINLockedUntil = nil
	e.mu.Unlock()
	return nil
}

// CreateVirtualAccount stores a new registry entry. The caller must tolerate,
// but the store does detect, account number collisions.
func (s *MemoryStore) CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error {
	s.virtualMu.Lock()
	defer s.virtualMu.Unlock()

	if existing, ok := s.virtualAccounts[account.AccountNumber]; ok && !existing.Expired(s.now()) {
		return ErrDuplicateAccountNumber
	}
	stored := *account
	s.virtualAccounts[account.AccountNumber] = &stored
	return nil
}

// FindVirtualAccount returns the entry for the account number, or
// ErrVirtualAccountNotFound once the current time exceeds its expiry —
// whether or not a sweep has physically removed it yet.
func (s *MemoryStore) FindVirtualAccount(ctx context.Context, accountNumber string) (*domain.VirtualAccount, error) {
	s.virtualMu.RLock()
	entry, ok := s.virtualAccounts[accountNumber]
	s.virtualMu.RUnlock()

	if !ok || entry.Expired(s.now()) {
		return nil, ErrVirtualAccountNotFound
	}
	snapshot := *entry
	return &snapshot, nil
}

// DeleteExpiredVirtualAccounts removes every logically expired entry and
// returns the reclaimed accounts.
func (s *MemoryStore) DeleteExpiredVirtualAccounts(ctx context.Context) ([]domain.VirtualAccount, error) {
	now := s.now()

	s.virtualMu.Lock()
	defer s.virtualMu.Unlock()

	var removed []domain.VirtualAccount
	for number, entry := range s.virtualAccounts {
		if entry.Expired(now) {
			removed = append(removed, *entry)
			delete(s.virtualAccounts, number)
		}
	}
	return removed, nil
}

// AppendTransaction adds one record to the history. It always succeeds while
// the process is alive.
func (s *MemoryStore) AppendTransaction(ctx context.Context, record domain.TransactionRecord) error {
	s.historyMu.Lock()
	s.history = append(s.history, record)
	s.historyMu.Unlock()
	return nil
}

// RecentTransactions returns at most limit records: the most recently
// appended ones, oldest first within that window. A non-positive limit
// yields an empty slice.
func (s *MemoryStore) RecentTransactions(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		return []domain.TransactionRecord{}, nil
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	start := len(s.history) - limit
	if start < 0 {
		start = 0
	}
	window := make([]domain.TransactionRecord, len(s.history)-start)
	copy(window, s.history[start:])
	return window, nil
}
