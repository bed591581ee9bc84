/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, storage, and API layers.
 *
 * @notes
 * - Monetary amounts are stored as `int64` in the smallest currency unit
 *   (won), which avoids floating-point inaccuracies with financial data.
 * - The PIN credential on BankAccount is a one-way hash; the clear PIN is
 *   never stored or serialized.
 */

package domain

import "time"

// BankAccount is the authoritative ledger record for one bank account.
// Accounts are keyed by "<bank>:<accountNumber>" and seeded at startup;
// only the transfer processor mutates Balance.
type BankAccount struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	Holder        string `json:"holder"`
	Balance       int64  `json:"balance"`
	PINHash       string `json:"-"`
	IsDefault     bool   `json:"is_default"`

	// PIN lockout bookkeeping. Inactive unless the service is configured
	// with a positive max-attempts value.
	FailedPINAttempts int        `json:"-"`
	PINLockedUntil    *time.Time `json:"-"`
}

// Key returns the ledger map key for the account.
func (a *BankAccount) Key() string {
	return a.Bank + ":" + a.AccountNumber
}

// AccountSummary is the client-facing view of a bank account. It never
// carries the PIN credential.
type AccountSummary struct {
	Bank          string `json:"bank"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountHolder string `json:"accountHolder"`
	Balance       int64  `json:"balance"`
	IsDefault     bool   `json:"isDefault"`
}

// VirtualAccount is a short-lived generated deposit account used to fund a
// transit-card top-up. It is owned exclusively by the registry and must not
// be retrievable once ExpireAt has passed.
type VirtualAccount struct {
	AccountNumber string    `json:"accountNumber"`
	BankName      string    `json:"bankName"`
	BankCode      string    `json:"bankCode"`
	Amount        int64     `json:"amount"`
	ExpireAt      time.Time `json:"expireAt"`
	DepositorName string    `json:"depositorName"`
	UserID        string    `json:"userId"`
	CardType      string    `json:"cardType"`
	CardNumber    string    `json:"cardNumber"`
}

// Expired reports whether the virtual account is past its expiry at the
// given instant. Logical expiry takes precedence over any sweep mechanics.
func (v *VirtualAccount) Expired(now time.Time) bool {
	return now.After(v.ExpireAt)
}

// TransactionStatus enumerates the terminal states of a ledger transfer.
// Only StatusSuccess is produced today; the taxonomy is extensible.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
)

// TransactionRecord is one immutable entry in the append-only transfer
// history. Records are appended in timestamp order and never mutated.
type TransactionRecord struct {
	TransactionID string            `json:"transactionId"`
	FromBank      string            `json:"fromBank"`
	FromAccount   string            `json:"fromAccount"`
	Amount        int64             `json:"amount"`
	Timestamp     time.Time         `json:"timestamp"`
	CardID        string            `json:"cardId"`
	Status        TransactionStatus `json:"status"`
}

// TransferRequest carries the validated arguments of a processTransfer call.
type TransferRequest struct {
	FromBank      string
	FromAccount   string
	AccountHolder string
	Amount        int64
	PIN           string
	CardID        string
}

// TransferReceipt is the structured success result of a completed transfer.
type TransferReceipt struct {
	TransactionID string    `json:"transactionId"`
	Amount        int64     `json:"amount"`
	CompletedAt   time.Time `json:"completedAt"`
	NewBalance    int64     `json:"newBalance"`
}

// CreateVirtualAccountRequest carries the validated arguments of a
// createVirtualAccount call. TTL of zero or less is rejected upstream.
type CreateVirtualAccountRequest struct {
	UserID     string
	Amount     int64
	CardType   string
	CardNumber string
	TTL        time.Duration
}

// TransferSummary is the client-facing view of one history entry. The
// destination and description are fixed by the top-up product.
type TransferSummary struct {
	TransactionID string            `json:"transactionId"`
	Amount        int64             `json:"amount"`
	FromAccount   string            `json:"fromAccount"`
	ToAccount     string            `json:"toAccount"`
	TransferredAt time.Time         `json:"transferredAt"`
	Status        TransactionStatus `json:"status"`
	Description   string            `json:"description"`
}

// ProviderTransferResult is the echo result of a simulated quick-transfer
// provider call (Toss, KakaoPay, NaverPay). Providers never touch the ledger.
type ProviderTransferResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
}
