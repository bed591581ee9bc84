package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freerider/ledger-service/internal/domain"
	"github.com/freerider/ledger-service/internal/store"
	"github.com/freerider/ledger-service/pkg/rabbitmq"
)

// fakeClock is a mutable clock shared between the service and the store so
// tests can advance time across expiry and lockout boundaries.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu               sync.Mutex
	transferEvents   []rabbitmq.TransferCompletedEvent
	virtualEvents    []rabbitmq.VirtualAccountEvent
	expiredEvents    []rabbitmq.VirtualAccountEvent
	failNextTransfer bool
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *capturingPublisher) PublishTransferCompleted(ctx context.Context, event rabbitmq.TransferCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNextTransfer {
		p.failNextTransfer = false
		return errors.New("broker unavailable")
	}
	p.transferEvents = append(p.transferEvents, event)
	return nil
}

func (p *capturingPublisher) PublishVirtualAccountCreated(ctx context.Context, event rabbitmq.VirtualAccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.virtualEvents = append(p.virtualEvents, event)
	return nil
}

func (p *capturingPublisher) PublishVirtualAccountExpired(ctx context.Context, event rabbitmq.VirtualAccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiredEvents = append(p.expiredEvents, event)
	return nil
}

func (p *capturingPublisher) Close() {}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *fakeClock, *capturingPublisher) {
	t.Helper()
	clock := newFakeClock()
	repo := store.NewMemoryStoreWithClock(clock.Now, DefaultSeedAccounts()...)
	publisher := &capturingPublisher{}
	svc := NewService(repo, publisher)
	svc.now = clock.Now
	return svc, repo, clock, publisher
}

func transferRequest(amount int64, pin string) domain.TransferRequest {
	return domain.TransferRequest{
		FromBank:      "KB",
		FromAccount:   "123456789012",
		AccountHolder: "홍길동",
		Amount:        amount,
		PIN:           pin,
		CardID:        "card-001",
	}
}

func TestProcessTransfer_Success(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	receipt, err := svc.ProcessTransfer(context.Background(), transferRequest(20000, "1234"))
	if err != nil {
		t.Fatalf("ProcessTransfer returned error: %v", err)
	}
	if !strings.HasPrefix(receipt.TransactionID, "TXN_") {
		t.Fatalf("expected TXN_ transaction id, got %q", receipt.TransactionID)
	}
	if receipt.Amount != 20000 {
		t.Fatalf("expected receipt amount 20000, got %d", receipt.Amount)
	}
	if receipt.NewBalance != 30000 {
		t.Fatalf("expected new balance 30000, got %d", receipt.NewBalance)
	}

	account, err := repo.FindAccount(context.Background(), "KB", "123456789012")
	if err != nil {
		t.Fatalf("FindAccount returned error: %v", err)
	}
	if account.Balance != 30000 {
		t.Fatalf("expected ledger balance 30000, got %d", account.Balance)
	}

	records, err := repo.RecentTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTransactions returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	if records[0].Status != domain.StatusSuccess {
		t.Fatalf("expected SUCCESS status, got %q", records[0].Status)
	}
}

func TestProcessTransfer_RepeatedUntilInsufficient(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.ProcessTransfer(ctx, transferRequest(20000, "1234")); err != nil {
			t.Fatalf("transfer %d returned error: %v", i+1, err)
		}
	}

	_, err := svc.ProcessTransfer(ctx, transferRequest(20000, "1234"))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	account, _ := repo.FindAccount(ctx, "KB", "123456789012")
	if account.Balance != 10000 {
		t.Fatalf("expected balance 10000 after failed third transfer, got %d", account.Balance)
	}
}

func TestProcessTransfer_WrongPINLeavesLedgerUntouched(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ProcessTransfer(ctx, transferRequest(10000, "0000"))
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}

	account, _ := repo.FindAccount(ctx, "KB", "123456789012")
	if account.Balance != 50000 {
		t.Fatalf("expected untouched balance 50000, got %d", account.Balance)
	}
	records, _ := repo.RecentTransactions(ctx, 10)
	if len(records) != 0 {
		t.Fatalf("expected empty history after failed transfer, got %d records", len(records))
	}
}

func TestProcessTransfer_UnknownAccount(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	req := transferRequest(10000, "1234")
	req.FromAccount = "000000000000"
	_, err := svc.ProcessTransfer(context.Background(), req)
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestProcessTransfer_InsufficientFundsCheckedBeforePIN(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	// Amount over balance and a bad PIN: the funds failure must win.
	req := transferRequest(999999, "0000")
	_, err := svc.ProcessTransfer(context.Background(), req)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds to take precedence, got %v", err)
	}
}

func TestProcessTransfer_ValidatesArguments(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*domain.TransferRequest)
	}{
		{"missing fromBank", func(r *domain.TransferRequest) { r.FromBank = "" }},
		{"missing fromAccount", func(r *domain.TransferRequest) { r.FromAccount = " " }},
		{"missing holder", func(r *domain.TransferRequest) { r.AccountHolder = "" }},
		{"missing pin", func(r *domain.TransferRequest) { r.PIN = "" }},
		{"missing cardId", func(r *domain.TransferRequest) { r.CardID = "" }},
		{"zero amount", func(r *domain.TransferRequest) { r.Amount = 0 }},
		{"negative amount", func(r *domain.TransferRequest) { r.Amount = -500 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := transferRequest(10000, "1234")
			tc.mutate(&req)
			_, err := svc.ProcessTransfer(context.Background(), req)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestProcessTransfer_ConcurrentDoubleSpend(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	// Two transfers of 30000 against a 50000 balance: exactly one may win.
	const amount = 30000
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessTransfer(ctx, transferRequest(amount, "1234"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, failures := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Fatalf("unexpected error from losing transfer: %v", err)
		}
		failures++
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("expected exactly one success and one insufficient-funds failure, got %d/%d", successes, failures)
	}

	account, _ := repo.FindAccount(ctx, "KB", "123456789012")
	if account.Balance != 20000 {
		t.Fatalf("expected final balance 20000, got %d", account.Balance)
	}
	records, _ := repo.RecentTransactions(ctx, 10)
	if len(records) != 1 {
		t.Fatalf("expected exactly one history record, got %d", len(records))
	}
}

func TestProcessTransfer_PublishesCompletionEvent(t *testing.T) {
	svc, _, _, publisher := newTestService(t)

	receipt, err := svc.ProcessTransfer(context.Background(), transferRequest(15000, "1234"))
	if err != nil {
		t.Fatalf("ProcessTransfer returned error: %v", err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.transferEvents) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.transferEvents))
	}
	event := publisher.transferEvents[0]
	if event.TransactionID != receipt.TransactionID {
		t.Fatalf("event transaction id %q does not match receipt %q", event.TransactionID, receipt.TransactionID)
	}
	if event.Amount != 15000 {
		t.Fatalf("expected event amount 15000, got %d", event.Amount)
	}
}

func TestProcessTransfer_PublishFailureDoesNotFailTransfer(t *testing.T) {
	svc, repo, _, publisher := newTestService(t)
	publisher.failNextTransfer = true

	if _, err := svc.ProcessTransfer(context.Background(), transferRequest(10000, "1234")); err != nil {
		t.Fatalf("transfer must settle despite publish failure, got %v", err)
	}
	account, _ := repo.FindAccount(context.Background(), "KB", "123456789012")
	if account.Balance != 40000 {
		t.Fatalf("expected balance 40000, got %d", account.Balance)
	}
}

func TestPINLockout_LocksAfterMaxAttempts(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	svc.ConfigurePINLockout(3, 300)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.ProcessTransfer(ctx, transferRequest(1000, "0000")); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: expected ErrInvalidPIN, got %v", i+1, err)
		}
	}

	// Locked now, even with the correct PIN.
	if _, err := svc.ProcessTransfer(ctx, transferRequest(1000, "1234")); !errors.Is(err, ErrPINLocked) {
		t.Fatalf("expected ErrPINLocked after max attempts, got %v", err)
	}

	// After the lockout window the correct PIN works again.
	clock.Advance(301 * time.Second)
	if _, err := svc.ProcessTransfer(ctx, transferRequest(1000, "1234")); err != nil {
		t.Fatalf("expected transfer to succeed after lockout expiry, got %v", err)
	}
}

func TestPINLockout_DisabledByDefault(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.ProcessTransfer(ctx, transferRequest(1000, "0000")); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: expected ErrInvalidPIN, got %v", i+1, err)
		}
	}
	if _, err := svc.ProcessTransfer(ctx, transferRequest(1000, "1234")); err != nil {
		t.Fatalf("expected transfer to succeed with lockout disabled, got %v", err)
	}
}

func TestCreateVirtualAccount_Fields(t *testing.T) {
	svc, _, clock, publisher := newTestService(t)

	account, err := svc.CreateVirtualAccount(context.Background(), domain.CreateVirtualAccountRequest{
		UserID:     "user-1",
		Amount:     30000,
		CardType:   "tmoney",
		CardNumber: "1010-2020-3030-4040",
		TTL:        30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateVirtualAccount returned error: %v", err)
	}

	if len(account.AccountNumber) != 14 {
		t.Fatalf("expected 14-digit account number, got %q", account.AccountNumber)
	}
	if account.BankName != "KB국민은행" || account.BankCode != "KB" {
		t.Fatalf("unexpected bank identity: %q/%q", account.BankName, account.BankCode)
	}
	if account.DepositorName != "FREERIDER_USER" {
		t.Fatalf("unexpected depositor name %q", account.DepositorName)
	}
	wantExpire := clock.Now().Add(30 * time.Minute)
	if !account.ExpireAt.Equal(wantExpire) {
		t.Fatalf("expected expiry %v, got %v", wantExpire, account.ExpireAt)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.virtualEvents) != 1 {
		t.Fatalf("expected 1 virtual account event, got %d", len(publisher.virtualEvents))
	}
}

func TestCreateVirtualAccount_RejectsNonPositiveTTL(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreateVirtualAccount(context.Background(), domain.CreateVirtualAccountRequest{
		UserID:     "user-1",
		Amount:     30000,
		CardType:   "tmoney",
		CardNumber: "1010",
		TTL:        0,
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero TTL, got %v", err)
	}
}

func TestLookupVirtualAccount_ExpiresLogically(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateVirtualAccount(ctx, domain.CreateVirtualAccountRequest{
		UserID:     "user-1",
		Amount:     10000,
		CardType:   "tmoney",
		CardNumber: "1010",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateVirtualAccount returned error: %v", err)
	}

	if _, err := svc.LookupVirtualAccount(ctx, account.AccountNumber); err != nil {
		t.Fatalf("expected live account to resolve, got %v", err)
	}

	// One second past the deadline the account is gone, sweep or no sweep.
	clock.Advance(61 * time.Second)
	_, err = svc.LookupVirtualAccount(ctx, account.AccountNumber)
	if !errors.Is(err, store.ErrVirtualAccountNotFound) {
		t.Fatalf("expected ErrVirtualAccountNotFound after expiry, got %v", err)
	}
}

func TestSweepExpiredVirtualAccounts_PublishesExpiries(t *testing.T) {
	svc, _, clock, publisher := newTestService(t)
	ctx := context.Background()

	account, err := svc.CreateVirtualAccount(ctx, domain.CreateVirtualAccountRequest{
		UserID:     "user-1",
		Amount:     10000,
		CardType:   "tmoney",
		CardNumber: "1010",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateVirtualAccount returned error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	removed, err := svc.SweepExpiredVirtualAccounts(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredVirtualAccounts returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 reclaimed account, got %d", removed)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.expiredEvents) != 1 {
		t.Fatalf("expected 1 expiry event, got %d", len(publisher.expiredEvents))
	}
	if publisher.expiredEvents[0].AccountNumber != account.AccountNumber {
		t.Fatalf("expiry event for %s, want %s", publisher.expiredEvents[0].AccountNumber, account.AccountNumber)
	}
}

func TestValidateAccount(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		bank    string
		account string
		holder  string
		want    bool
	}{
		{"matching holder", "KB", "123456789012", "홍길동", true},
		{"holder mismatch", "KB", "123456789012", "김철수", false},
		{"unknown account", "KB", "000000000000", "홍길동", false},
		{"unknown bank", "WOORI", "123456789012", "홍길동", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			valid, err := svc.ValidateAccount(ctx, tc.bank, tc.account, tc.holder)
			if err != nil {
				t.Fatalf("ValidateAccount returned error: %v", err)
			}
			if valid != tc.want {
				t.Fatalf("ValidateAccount = %v, want %v", valid, tc.want)
			}
		})
	}
}

func TestUserAccounts_Summaries(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	summaries, err := svc.UserAccounts(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("UserAccounts returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 account summaries, got %d", len(summaries))
	}

	first := summaries[0]
	if first.Bank != "KB" || first.BankName != "KB국민은행" || !first.IsDefault {
		t.Fatalf("unexpected first summary: %+v", first)
	}
	if first.Balance != 50000 {
		t.Fatalf("expected first balance 50000, got %d", first.Balance)
	}
	second := summaries[1]
	if second.Bank != "SHINHAN" || second.BankName != "신한은행" || second.IsDefault {
		t.Fatalf("unexpected second summary: %+v", second)
	}
	if second.Balance != 100000 {
		t.Fatalf("expected second balance 100000, got %d", second.Balance)
	}
}

func TestBalance(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	balance, err := svc.Balance(ctx, "KB", "123456789012", "1234")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if balance != 50000 {
		t.Fatalf("expected balance 50000, got %d", balance)
	}

	if _, err := svc.Balance(ctx, "KB", "123456789012", "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
	if _, err := svc.Balance(ctx, "KB", "999999999999", "1234"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTransferHistory_WindowAndShape(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	amounts := []int64{1000, 2000, 3000}
	for _, amount := range amounts {
		if _, err := svc.ProcessTransfer(ctx, transferRequest(amount, "1234")); err != nil {
			t.Fatalf("transfer of %d returned error: %v", amount, err)
		}
	}

	history, err := svc.TransferHistory(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("TransferHistory returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(history))
	}
	// The window holds the most recent records, oldest first.
	if history[0].Amount != 2000 || history[1].Amount != 3000 {
		t.Fatalf("unexpected window order: %d, %d", history[0].Amount, history[1].Amount)
	}
	for _, summary := range history {
		if summary.ToAccount != "FREERIDER_CHARGE" {
			t.Fatalf("expected destination FREERIDER_CHARGE, got %q", summary.ToAccount)
		}
		if summary.Description != "교통카드 충전" {
			t.Fatalf("unexpected description %q", summary.Description)
		}
		if summary.Status != domain.StatusSuccess {
			t.Fatalf("expected SUCCESS status, got %q", summary.Status)
		}
	}
}

func TestProcessProviderTransfer_Prefixes(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		provider Provider
		prefix   string
	}{
		{ProviderToss, "TOSS_"},
		{ProviderKakaoPay, "KAKAO_"},
		{ProviderNaverPay, "NAVER_"},
	}

	for _, tc := range tests {
		t.Run(tc.provider.Name, func(t *testing.T) {
			result, err := svc.ProcessProviderTransfer(ctx, tc.provider, 25000, "card-001")
			if err != nil {
				t.Fatalf("ProcessProviderTransfer returned error: %v", err)
			}
			if !result.Success {
				t.Fatal("expected success=true")
			}
			if !strings.HasPrefix(result.TransactionID, tc.prefix+"TXN_") {
				t.Fatalf("expected %sTXN_ transaction id, got %q", tc.prefix, result.TransactionID)
			}
			if result.Amount != 25000 {
				t.Fatalf("expected echoed amount 25000, got %d", result.Amount)
			}
		})
	}
}

func TestProcessProviderTransfer_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ProcessProviderTransfer(ctx, ProviderToss, 0, "card-001"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if _, err := svc.ProcessProviderTransfer(ctx, ProviderToss, 1000, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing card id, got %v", err)
	}
}
