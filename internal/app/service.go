/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates every operation exposed over the method-dispatch boundary:
 * PIN-authenticated transfers against the in-memory ledger, time-bounded virtual
 * deposit accounts, account validation, balance queries, transfer history, and
 * the simulated quick-transfer providers.
 *
 * Key features:
 * - "Validate fully, then mutate once": a transfer debits the ledger and appends
 *   history only after every check has passed, so there is no rollback path and
 *   no partial-success state.
 * - The balance check before the PIN check decides error precedence; the debit
 *   itself re-checks funds atomically inside the store, closing the
 *   check-then-act race between concurrent transfers on one account.
 * - Simulated network latency is a pure scheduling delay taken before any state
 *   is touched; no lock is held while waiting.
 * - Publishes events to RabbitMQ for asynchronous consumers when a producer is
 *   configured.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and state access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/freerider/ledger-service/internal/domain"
	"github.com/freerider/ledger-service/internal/store"
	"github.com/freerider/ledger-service/pkg/rabbitmq"
)

const (
	DefaultVirtualAccountTTL = 30 * time.Minute

	virtualAccountBankCode  = "KB"
	virtualAccountBankName  = "KB국민은행"
	virtualAccountDepositor = "FREERIDER_USER"

	historyDestination = "FREERIDER_CHARGE"
	historyDescription = "교통카드 충전"

	// How often a duplicate virtual account number is retried before the
	// creation is reported as failed.
	virtualAccountNumberRetries = 3
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidPIN      = errors.New("invalid pin")
	ErrPINLocked       = errors.New("pin temporarily locked")
)

// Provider identifies one simulated quick-transfer provider. Provider stubs
// are delay-and-echo only and never touch the ledger.
type Provider struct {
	Name     string
	IDPrefix string
}

var (
	ProviderToss     = Provider{Name: "toss", IDPrefix: "TOSS_"}
	ProviderKakaoPay = Provider{Name: "kakaopay", IDPrefix: "KAKAO_"}
	ProviderNaverPay = Provider{Name: "naverpay", IDPrefix: "NAVER_"}
)

// Service provides the core business logic for the mock bank ledger.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	ids           *IDGenerator
	now           func() time.Time

	defaultVirtualAccountTTL time.Duration
	transferLatency          time.Duration
	lookupLatency            time.Duration
	providerLatency          time.Duration
	pinMaxAttempts           int
	pinLockoutSeconds        int
}

// NewService creates a new ledger service instance. The producer may be nil
// when no broker is configured; event publishing is then skipped.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:                     repo,
		eventProducer:            producer,
		ids:                      &IDGenerator{},
		now:                      time.Now,
		defaultVirtualAccountTTL: DefaultVirtualAccountTTL,
	}
}

// ConfigureSimulatedLatency sets the artificial processing delays observed by
// callers as a minimum response time. Zero disables a delay.
func (s *Service) ConfigureSimulatedLatency(transfer, lookup, provider time.Duration) {
	s.transferLatency = transfer
	s.lookupLatency = lookup
	s.providerLatency = provider
}

// ConfigurePINLockout enables failed-attempt tracking. A non-positive
// maxAttempts leaves lockout disabled.
func (s *Service) ConfigurePINLockout(maxAttempts, lockoutSeconds int) {
	s.pinMaxAttempts = maxAttempts
	s.pinLockoutSeconds = lockoutSeconds
}

// ConfigureDefaultVirtualAccountTTL overrides the TTL applied when a caller
// does not supply one.
func (s *Service) ConfigureDefaultVirtualAccountTTL(ttl time.Duration) {
	if ttl > 0 {
		s.defaultVirtualAccountTTL = ttl
	}
}

// DefaultTTL returns the TTL applied when a caller omits expireMinutes.
func (s *Service) DefaultTTL() time.Duration {
	return s.defaultVirtualAccountTTL
}

// simulateLatency sleeps for d without holding any ledger lock. It returns
// early when the caller's context is cancelled.
func (s *Service) simulateLatency(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessTransfer executes a PIN-authenticated balance transfer. Checks run
// in a fixed order, each short-circuiting to its failure: argument
// validation, account lookup, funds, PIN, then the atomic debit.
func (s *Service) ProcessTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	switch {
	case strings.TrimSpace(req.FromBank) == "":
		return nil, fmt.Errorf("%w: fromBank required", ErrInvalidArgument)
	case strings.TrimSpace(req.FromAccount) == "":
		return nil, fmt.Errorf("%w: fromAccount required", ErrInvalidArgument)
	case strings.TrimSpace(req.AccountHolder) == "":
		return nil, fmt.Errorf("%w: accountHolder required", ErrInvalidArgument)
	case req.PIN == "":
		return nil, fmt.Errorf("%w: pin required", ErrInvalidArgument)
	case strings.TrimSpace(req.CardID) == "":
		return nil, fmt.Errorf("%w: cardId required", ErrInvalidArgument)
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	if err := s.simulateLatency(ctx, s.transferLatency); err != nil {
		return nil, err
	}

	account, err := s.repo.FindAccount(ctx, req.FromBank, req.FromAccount)
	if err != nil {
		return nil, err
	}

	if account.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}

	if err := s.authorizePIN(ctx, account, req.PIN); err != nil {
		return nil, err
	}

	// The debit re-checks funds under the account lock; a concurrent
	// transfer that won the race surfaces here as insufficient funds with
	// no effect on ledger or history.
	newBalance, err := s.repo.DebitAccount(ctx, req.FromBank, req.FromAccount, req.Amount)
	if err != nil {
		return nil, err
	}

	completedAt := s.now()
	record := domain.TransactionRecord{
		TransactionID: s.ids.TransactionID(),
		FromBank:      req.FromBank,
		FromAccount:   req.FromAccount,
		Amount:        req.Amount,
		Timestamp:     completedAt,
		CardID:        req.CardID,
		Status:        domain.StatusSuccess,
	}
	if err := s.repo.AppendTransaction(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to append transaction record: %w", err)
	}

	if s.eventProducer != nil {
		event := rabbitmq.TransferCompletedEvent{
			TransactionID: record.TransactionID,
			FromBank:      record.FromBank,
			FromAccount:   record.FromAccount,
			Amount:        record.Amount,
			CardID:        record.CardID,
			CompletedAt:   completedAt,
		}
		if err := s.eventProducer.PublishTransferCompleted(ctx, event); err != nil {
			log.Printf("level=warn component=service msg=\"transfer event publish failed\" transaction_id=%s err=%v", record.TransactionID, err)
			// The transfer already settled; event delivery is best effort.
		}
	}

	return &domain.TransferReceipt{
		TransactionID: record.TransactionID,
		Amount:        record.Amount,
		CompletedAt:   completedAt,
		NewBalance:    newBalance,
	}, nil
}

// authorizePIN verifies the PIN against the account credential and maintains
// the optional lockout state.
func (s *Service) authorizePIN(ctx context.Context, account *domain.BankAccount, pin string) error {
	if s.pinMaxAttempts > 0 && account.PINLockedUntil != nil && account.PINLockedUntil.After(s.now()) {
		return ErrPINLocked
	}

	if !VerifyPIN(pin, account.PINHash) {
		if s.pinMaxAttempts > 0 {
			if _, err := s.repo.RecordFailedPINAttempt(ctx, account.Bank, account.AccountNumber, s.pinMaxAttempts, s.pinLockoutSeconds); err != nil {
				log.Printf("level=warn component=service msg=\"failed pin attempt not recorded\" account=%s err=%v", account.Key(), err)
			}
		}
		return ErrInvalidPIN
	}

	if s.pinMaxAttempts > 0 && account.FailedPINAttempts > 0 {
		if err := s.repo.ResetPINFailureState(ctx, account.Bank, account.AccountNumber); err != nil {
			log.Printf("level=warn component=service msg=\"pin failure state not reset\" account=%s err=%v", account.Key(), err)
		}
	}
	return nil
}

// CreateVirtualAccount provisions a time-bounded virtual deposit account.
func (s *Service) CreateVirtualAccount(ctx context.Context, req domain.CreateVirtualAccountRequest) (*domain.VirtualAccount, error) {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, fmt.Errorf("%w: userId required", ErrInvalidArgument)
	case strings.TrimSpace(req.CardType) == "":
		return nil, fmt.Errorf("%w: cardType required", ErrInvalidArgument)
	case strings.TrimSpace(req.CardNumber) == "":
		return nil, fmt.Errorf("%w: cardNumber required", ErrInvalidArgument)
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	case req.TTL <= 0:
		return nil, fmt.Errorf("%w: expireMinutes must be positive", ErrInvalidArgument)
	}

	account := &domain.VirtualAccount{
		BankName:      virtualAccountBankName,
		BankCode:      virtualAccountBankCode,
		Amount:        req.Amount,
		ExpireAt:      s.now().Add(req.TTL),
		DepositorName: virtualAccountDepositor,
		UserID:        req.UserID,
		CardType:      req.CardType,
		CardNumber:    req.CardNumber,
	}

	var err error
	for attempt := 0; attempt < virtualAccountNumberRetries; attempt++ {
		account.AccountNumber = s.ids.VirtualAccountNumber()
		err = s.repo.CreateVirtualAccount(ctx, account)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateAccountNumber) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not allocate virtual account number: %w", err)
	}

	if s.eventProducer != nil {
		event := rabbitmq.VirtualAccountEvent{
			AccountNumber: account.AccountNumber,
			UserID:        account.UserID,
			Amount:        account.Amount,
			ExpireAt:      account.ExpireAt,
		}
		if err := s.eventProducer.PublishVirtualAccountCreated(ctx, event); err != nil {
			log.Printf("level=warn component=service msg=\"virtual account event publish failed\" account_number=%s err=%v", account.AccountNumber, err)
		}
	}

	return account, nil
}

// LookupVirtualAccount returns a live virtual account by number. Expired
// entries are reported as not found regardless of sweep timing.
func (s *Service) LookupVirtualAccount(ctx context.Context, accountNumber string) (*domain.VirtualAccount, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, fmt.Errorf("%w: accountNumber required", ErrInvalidArgument)
	}
	return s.repo.FindVirtualAccount(ctx, accountNumber)
}

// ValidateAccount performs the soft holder-name validation used before a
// transfer is offered. A missing account yields false, not an error.
func (s *Service) ValidateAccount(ctx context.Context, bank, accountNumber, holder string) (bool, error) {
	switch {
	case strings.TrimSpace(bank) == "":
		return false, fmt.Errorf("%w: bank required", ErrInvalidArgument)
	case strings.TrimSpace(accountNumber) == "":
		return false, fmt.Errorf("%w: account required", ErrInvalidArgument)
	case strings.TrimSpace(holder) == "":
		return false, fmt.Errorf("%w: holder required", ErrInvalidArgument)
	}

	if err := s.simulateLatency(ctx, s.lookupLatency); err != nil {
		return false, err
	}

	account, err := s.repo.FindAccount(ctx, bank, accountNumber)
	if errors.Is(err, store.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return account.Holder == holder, nil
}

// UserAccounts returns the client-facing summaries of every ledger account.
// The mock ledger is single-user, so userID gates the call but does not
// filter the result.
func (s *Service) UserAccounts(ctx context.Context, userID string) ([]domain.AccountSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId required", ErrInvalidArgument)
	}

	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, domain.AccountSummary{
			Bank:          account.Bank,
			BankName:      bankDisplayName(account.Bank),
			AccountNumber: account.AccountNumber,
			AccountHolder: account.Holder,
			Balance:       account.Balance,
			IsDefault:     account.IsDefault,
		})
	}
	return summaries, nil
}

// Balance returns the current balance after PIN verification.
func (s *Service) Balance(ctx context.Context, bank, accountNumber, pin string) (int64, error) {
	switch {
	case strings.TrimSpace(bank) == "":
		return 0, fmt.Errorf("%w: bank required", ErrInvalidArgument)
	case strings.TrimSpace(accountNumber) == "":
		return 0, fmt.Errorf("%w: account required", ErrInvalidArgument)
	case pin == "":
		return 0, fmt.Errorf("%w: pin required", ErrInvalidArgument)
	}

	if err := s.simulateLatency(ctx, s.lookupLatency); err != nil {
		return 0, err
	}

	account, err := s.repo.FindAccount(ctx, bank, accountNumber)
	if err != nil {
		return 0, err
	}
	if err := s.authorizePIN(ctx, account, pin); err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// TransferHistory returns the most recent transfer summaries, oldest first
// within the window. The mock history is shared, so userID gates the call
// but does not filter the result.
func (s *Service) TransferHistory(ctx context.Context, userID string, limit int) ([]domain.TransferSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId required", ErrInvalidArgument)
	}

	records, err := s.repo.RecentTransactions(ctx, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.TransferSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, domain.TransferSummary{
			TransactionID: record.TransactionID,
			Amount:        record.Amount,
			FromAccount:   record.FromAccount,
			ToAccount:     historyDestination,
			TransferredAt: record.Timestamp,
			Status:        record.Status,
			Description:   historyDescription,
		})
	}
	return summaries, nil
}

// ProcessProviderTransfer simulates a quick-transfer provider call: a
// scheduling delay followed by an echo with a provider-prefixed id.
func (s *Service) ProcessProviderTransfer(ctx context.Context, provider Provider, amount int64, cardID string) (*domain.ProviderTransferResult, error) {
	switch {
	case amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	case strings.TrimSpace(cardID) == "":
		return nil, fmt.Errorf("%w: cardId required", ErrInvalidArgument)
	}

	if err := s.simulateLatency(ctx, s.providerLatency); err != nil {
		return nil, err
	}

	return &domain.ProviderTransferResult{
		Success:       true,
		TransactionID: provider.IDPrefix + s.ids.TransactionID(),
		Amount:        amount,
	}, nil
}

// SweepExpiredVirtualAccounts runs one reclamation pass over the registry and
// announces each expiry. Logical expiry never depends on it; the sweep only
// frees memory and emits events.
func (s *Service) SweepExpiredVirtualAccounts(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteExpiredVirtualAccounts(ctx)
	if err != nil {
		return 0, err
	}

	if s.eventProducer != nil {
		for _, account := range removed {
			event := rabbitmq.VirtualAccountEvent{
				AccountNumber: account.AccountNumber,
				UserID:        account.UserID,
				Amount:        account.Amount,
				ExpireAt:      account.ExpireAt,
			}
			if err := s.eventProducer.PublishVirtualAccountExpired(ctx, event); err != nil {
				log.Printf("level=warn component=service msg=\"virtual account expiry event publish failed\" account_number=%s err=%v", account.AccountNumber, err)
			}
		}
	}
	return len(removed), nil
}

// StartExpirySweeper launches the background reclamation loop for expired
// virtual accounts. The loop stops when ctx is cancelled.
func (s *Service) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.SweepExpiredVirtualAccounts(ctx)
				if err != nil {
					log.Printf("level=warn component=service msg=\"virtual account sweep failed\" err=%v", err)
					continue
				}
				if removed > 0 {
					log.Printf("level=info component=service msg=\"expired virtual accounts reclaimed\" count=%d", removed)
				}
			}
		}
	}()
}

func bankDisplayName(code string) string {
	switch code {
	case "KB":
		return "KB국민은행"
	case "SHINHAN":
		return "신한은행"
	default:
		return code
	}
}
