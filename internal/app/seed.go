package app

import "github.com/freerider/ledger-service/internal/domain"

// DefaultSeedAccounts returns the fixture ledger both mobile platforms
// shipped with: two accounts for the same holder, PIN 1234.
func DefaultSeedAccounts() []domain.BankAccount {
	return []domain.BankAccount{
		{
			Bank:          "KB",
			AccountNumber: "123456789012",
			Holder:        "홍길동",
			Balance:       50000,
			PINHash:       HashPIN("1234"),
			IsDefault:     true,
		},
		{
			Bank:          "SHINHAN",
			AccountNumber: "987654321098",
			Holder:        "홍길동",
			Balance:       100000,
			PINHash:       HashPIN("1234"),
		},
	}
}
