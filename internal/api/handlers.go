/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's method-dispatch
 * boundary. The mobile clients talk to the service the same way they talked to
 * the platform method channels: a method name plus an argument map, answered
 * with a result or a structured (code, message) error. Handlers are responsible
 * for argument marshalling, calling the application service, and translating
 * typed failures into boundary error codes. Korean user-facing messages are
 * preserved verbatim from the platform implementations.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/freerider/ledger-service/internal/app"
	"github.com/freerider/ledger-service/internal/domain"
	"github.com/freerider/ledger-service/internal/store"
)

const (
	msgAccountNotFound   = "계좌를 찾을 수 없습니다"
	msgInsufficientFunds = "잔액이 부족합니다"
	msgInvalidPIN        = "비밀번호가 일치하지 않습니다"
	msgPINLocked         = "비밀번호 입력 횟수를 초과했습니다"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service

	limiter                    app.RateLimiter
	transferRateLimitPerMinute int
	balanceRateLimitPerMinute  int
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// SetRateLimiter enables per-account throttling of the PIN-bearing methods.
func (h *LedgerHandlers) SetRateLimiter(limiter app.RateLimiter, transferPerMinute, balancePerMinute int) {
	h.limiter = limiter
	h.transferRateLimitPerMinute = transferPerMinute
	h.balanceRateLimitPerMinute = balancePerMinute
}

// invokeEnvelope mirrors the platform method-channel call: a method name and
// an argument map.
type invokeEnvelope struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

// methodError is the structured failure shape of the boundary.
type methodError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

// InvokeHandler dispatches one method-channel call.
func (h *LedgerHandlers) InvokeHandler(w http.ResponseWriter, r *http.Request) {
	var env invokeEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_json err=%v", err)
		h.writeMethodError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a method envelope")
		return
	}
	if env.Arguments == nil {
		env.Arguments = map[string]any{}
	}

	switch env.Method {
	case "createVirtualAccount":
		h.createVirtualAccount(w, r, env.Arguments)
	case "processTransfer":
		h.processTransfer(w, r, env.Arguments)
	case "validateAccount":
		h.validateAccount(w, r, env.Arguments)
	case "getUserAccounts":
		h.getUserAccounts(w, r, env.Arguments)
	case "getBalance":
		h.getBalance(w, r, env.Arguments)
	case "getTransferHistory":
		h.getTransferHistory(w, r, env.Arguments)
	case "processTossTransfer":
		h.processProviderTransfer(w, r, env.Arguments, app.ProviderToss, "TOSS_TRANSFER_ERROR")
	case "processKakaoPayTransfer":
		h.processProviderTransfer(w, r, env.Arguments, app.ProviderKakaoPay, "KAKAOPAY_TRANSFER_ERROR")
	case "processNaverPayTransfer":
		h.processProviderTransfer(w, r, env.Arguments, app.ProviderNaverPay, "NAVERPAY_TRANSFER_ERROR")
	default:
		log.Printf("level=warn component=api outcome=reject reason=unknown_method method=%q", env.Method)
		h.writeMethodError(w, http.StatusNotFound, "NOT_IMPLEMENTED", fmt.Sprintf("method %q is not implemented", env.Method))
	}
}

func (h *LedgerHandlers) createVirtualAccount(w http.ResponseWriter, r *http.Request, args map[string]any) {
	userID, err := argString(args, "userId")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}
	amount, err := argAmount(args, "amount")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}
	cardType, err := argString(args, "cardType")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}
	cardNumber, err := argString(args, "cardNumber")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}
	expireMinutes, err := argOptionalMinutes(args, "expireMinutes", h.service.DefaultTTL())
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}

	account, err := h.service.CreateVirtualAccount(r.Context(), domain.CreateVirtualAccountRequest{
		UserID:     userID,
		Amount:     amount,
		CardType:   cardType,
		CardNumber: cardNumber,
		TTL:        time.Duration(expireMinutes) * time.Minute,
	})
	if err != nil {
		log.Printf("level=warn component=api method=createVirtualAccount outcome=failed user_id=%s err=%v", userID, err)
		h.writeMethodError(w, statusFor(err), "CREATE_VIRTUAL_ACCOUNT_ERROR", err.Error())
		return
	}

	log.Printf("level=info component=api method=createVirtualAccount outcome=ok user_id=%s account_number=%s", userID, account.AccountNumber)
	h.writeResult(w, map[string]any{
		"accountNumber": account.AccountNumber,
		"bankName":      account.BankName,
		"bankCode":      account.BankCode,
		"amount":        account.Amount,
		"expireAt":      account.ExpireAt.UTC().Format(time.RFC3339),
		"depositorName": account.DepositorName,
	})
}

func (h *LedgerHandlers) processTransfer(w http.ResponseWriter, r *http.Request, args map[string]any) {
	fromBank, err := argString(args, "fromBank")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}
	fromAccount, err := argString(args, "fromAccount")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}
	accountHolder, err := argString(args, "accountHolder")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}
	amount, err := argAmount(args, "amount")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}
	pin, err := argString(args, "pin")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}
	cardID, err := argString(args, "cardId")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "TRANSFER_ERROR", err.Error())
		return
	}

	if !h.allowRate(w, r, "transfer", fromBank+":"+fromAccount, h.transferRateLimitPerMinute) {
		return
	}

	receipt, err := h.service.ProcessTransfer(r.Context(), domain.TransferRequest{
		FromBank:      fromBank,
		FromAccount:   fromAccount,
		AccountHolder: accountHolder,
		Amount:        amount,
		PIN:           pin,
		CardID:        cardID,
	})
	if err != nil {
		log.Printf("level=warn component=api method=processTransfer outcome=failed account=%s:%s err=%v", fromBank, fromAccount, err)
		status, code, message := mapLedgerError(err, "TRANSFER_ERROR")
		h.writeMethodError(w, status, code, message)
		return
	}

	log.Printf("level=info component=api method=processTransfer outcome=ok account=%s:%s amount=%d transaction_id=%s", fromBank, fromAccount, amount, receipt.TransactionID)
	h.writeResult(w, map[string]any{
		"success":       true,
		"transactionId": receipt.TransactionID,
		"amount":        receipt.Amount,
		"completedAt":   receipt.CompletedAt.UTC().Format(time.RFC3339),
		"newBalance":    receipt.NewBalance,
	})
}

func (h *LedgerHandlers) validateAccount(w http.ResponseWriter, r *http.Request, args map[string]any) {
	bank, err := argString(args, "bank")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	account, err := argString(args, "account")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	holder, err := argString(args, "holder")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	valid, err := h.service.ValidateAccount(r.Context(), bank, account, holder)
	if err != nil {
		log.Printf("level=warn component=api method=validateAccount outcome=failed account=%s:%s err=%v", bank, account, err)
		h.writeMethodError(w, statusFor(err), "VALIDATION_ERROR", err.Error())
		return
	}
	h.writeResult(w, valid)
}

func (h *LedgerHandlers) getUserAccounts(w http.ResponseWriter, r *http.Request, args map[string]any) {
	userID, err := argString(args, "userId")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "GET_ACCOUNTS_ERROR", err.Error())
		return
	}

	accounts, err := h.service.UserAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api method=getUserAccounts outcome=failed user_id=%s err=%v", userID, err)
		h.writeMethodError(w, statusFor(err), "GET_ACCOUNTS_ERROR", err.Error())
		return
	}
	h.writeResult(w, accounts)
}

func (h *LedgerHandlers) getBalance(w http.ResponseWriter, r *http.Request, args map[string]any) {
	bank, err := argString(args, "bank")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "BALANCE_ERROR", err.Error())
		return
	}
	account, err := argString(args, "account")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "BALANCE_ERROR", err.Error())
		return
	}
	pin, err := argString(args, "pin")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "BALANCE_ERROR", err.Error())
		return
	}

	if !h.allowRate(w, r, "balance", bank+":"+account, h.balanceRateLimitPerMinute) {
		return
	}

	balance, err := h.service.Balance(r.Context(), bank, account, pin)
	if err != nil {
		log.Printf("level=warn component=api method=getBalance outcome=failed account=%s:%s err=%v", bank, account, err)
		status, code, message := mapLedgerError(err, "BALANCE_ERROR")
		h.writeMethodError(w, status, code, message)
		return
	}
	h.writeResult(w, balance)
}

func (h *LedgerHandlers) getTransferHistory(w http.ResponseWriter, r *http.Request, args map[string]any) {
	userID, err := argString(args, "userId")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "HISTORY_ERROR", err.Error())
		return
	}
	limit, err := argOptionalInt(args, "limit", 20)
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, "HISTORY_ERROR", err.Error())
		return
	}

	history, err := h.service.TransferHistory(r.Context(), userID, int(limit))
	if err != nil {
		log.Printf("level=warn component=api method=getTransferHistory outcome=failed user_id=%s err=%v", userID, err)
		h.writeMethodError(w, statusFor(err), "HISTORY_ERROR", err.Error())
		return
	}
	h.writeResult(w, history)
}

func (h *LedgerHandlers) processProviderTransfer(w http.ResponseWriter, r *http.Request, args map[string]any, provider app.Provider, errorCode string) {
	amount, err := argAmount(args, "amount")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, errorCode, err.Error())
		return
	}
	cardID, err := argString(args, "cardId")
	if err != nil {
		h.writeMethodError(w, http.StatusBadRequest, errorCode, err.Error())
		return
	}

	result, err := h.service.ProcessProviderTransfer(r.Context(), provider, amount, cardID)
	if err != nil {
		log.Printf("level=warn component=api method=%sTransfer outcome=failed err=%v", provider.Name, err)
		h.writeMethodError(w, statusFor(err), errorCode, err.Error())
		return
	}
	h.writeResult(w, result)
}

// allowRate consumes one slot from the per-minute window for the method and
// subject. A nil limiter or non-positive limit always allows the call; a
// limiter failure fails open so the mock never blocks on Redis.
func (h *LedgerHandlers) allowRate(w http.ResponseWriter, r *http.Request, scope, subject string, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing call\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeMethodError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return false
	}
	return true
}

// mapLedgerError translates the typed failures shared by processTransfer and
// getBalance into boundary codes with the preserved user-facing messages.
func mapLedgerError(err error, fallbackCode string) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "INVALID_ACCOUNT", msgAccountNotFound
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", msgInsufficientFunds
	case errors.Is(err, app.ErrInvalidPIN):
		return http.StatusUnauthorized, "INVALID_PIN", msgInvalidPIN
	case errors.Is(err, app.ErrPINLocked):
		return http.StatusLocked, "PIN_LOCKED", msgPINLocked
	case errors.Is(err, app.ErrInvalidArgument):
		return http.StatusBadRequest, fallbackCode, err.Error()
	}
	return http.StatusInternalServerError, fallbackCode, err.Error()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrVirtualAccountNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// argString extracts a required non-empty string argument. The message shape
// ("<name> required") matches what the platform plugins raised.
func argString(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%s required", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s required", name)
	}
	return s, nil
}

// argAmount extracts a required integral amount. JSON numbers arrive as
// float64; fractional values are rejected.
func argAmount(args map[string]any, name string) (int64, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("%s required", name)
	}
	f, ok := v.(float64)
	if !ok || math.Trunc(f) != f {
		return 0, fmt.Errorf("%s required", name)
	}
	return int64(f), nil
}

// argOptionalInt extracts an optional integral argument, applying def when
// absent. A present but malformed value is still an error.
func argOptionalInt(args map[string]any, name string, def int64) (int64, error) {
	if _, ok := args[name]; !ok {
		return def, nil
	}
	return argAmount(args, name)
}

// argOptionalMinutes resolves the expireMinutes argument against the default
// TTL. Explicit zero or negative values pass through so the service can
// reject them; only absence applies the default.
func argOptionalMinutes(args map[string]any, name string, def time.Duration) (int64, error) {
	return argOptionalInt(args, name, int64(def/time.Minute))
}

// writeResult is a helper for writing successful method results.
func (h *LedgerHandlers) writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// writeMethodError is a helper for writing structured method errors.
func (h *LedgerHandlers) writeMethodError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(methodError{Code: code, Message: message})
}
