package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavebank/backend/internal/audit"
	"github.com/wavebank/backend/internal/config"
	"github.com/wavebank/backend/internal/models"
	"github.com/wavebank/backend/internal/notifications"
)

// Transfer error taxonomy. Validation errors are reported to the caller;
// anything else is a persistence failure and is logged at error severity.
var (
	ErrRecipientNotFound      = errors.New("recipient account not found")
	ErrSelfTransferNotAllowed = errors.New("cannot transfer to own account")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrConcurrentModification = errors.New("balance changed concurrently, retry")
	ErrDailyLimitExceeded     = errors.New("daily transfer limit reached")
)

type TransferService struct {
	db        *sql.DB
	notifier  notifications.Publisher
	audit     *audit.Logger
	validator *ValidationHelper
	config    *config.TransferConfig
}

// TransferResult is returned to the UI layer on success.
type TransferResult struct {
	Reference        string `json:"reference"`
	NewSenderBalance int64  `json:"newSenderBalance"`
}

type transferRequest struct {
	RecipientAccountNo string `json:"recipientAccountNo" validate:"required,len=10,numeric"`
	Amount             int64  `json:"amount" validate:"required,gt=0"`
	Narration          string `json:"narration" validate:"max=200"`
}

func NewTransferService(db *sql.DB, notifier notifications.Publisher) *TransferService {
	return &TransferService{
		db:        db,
		notifier:  notifier,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		config:    config.LoadTransferConfig(),
	}
}

// Transfer handles a wallet-to-wallet transfer for the authenticated user
// @Summary Execute wallet transfer
// @Description Move an amount from the caller's account to another wallet, recording paired ledger entries
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body transferRequest true "Transfer details"
// @Success 201 {object} TransferResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /transfers [post]
func (ts *TransferService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req transferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// The sender account is resolved from the authenticated user, never from
	// the request body.
	senderNo, err := ts.accountNoForUser(userID)
	if err != nil {
		log.Printf("[TRANSFER] No account for user %s: %v", userID, err)
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	result, err := ts.ExecuteTransfer(r.Context(), senderNo, req.RecipientAccountNo, req.Amount, req.Narration)
	if err != nil {
		ts.writeTransferError(w, senderNo, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":          true,
		"reference":        result.Reference,
		"newSenderBalance": result.NewSenderBalance,
	})
}

// ExecuteTransfer moves amount from sender to recipient as one database
// transaction: both balance mutations and both ledger legs commit or roll
// back together. Accounts are row-locked in ascending account number order
// and the debit is additionally guarded by a conditional update, so two
// concurrent transfers against the same sender cannot both spend the same
// balance.
func (ts *TransferService) ExecuteTransfer(ctx context.Context, senderNo, recipientNo string, amount int64, narration string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	// Product limits on top of the positive-amount rule; the wrapped error
	// keeps errors.Is working while naming which limit was hit.
	if amount < ts.config.MinAmount {
		return nil, fmt.Errorf("%w: below minimum of %d", ErrInvalidAmount, ts.config.MinAmount)
	}
	if amount > ts.config.MaxAmount {
		return nil, fmt.Errorf("%w: above maximum of %d", ErrInvalidAmount, ts.config.MaxAmount)
	}
	if senderNo == recipientNo {
		return nil, ErrSelfTransferNotAllowed
	}

	reference := uuid.New().String()

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := senderNo, recipientNo
	if senderNo > recipientNo {
		firstLock, secondLock = recipientNo, senderNo
	}

	first, err := ts.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, ts.lockError(firstLock, senderNo, err)
	}
	second, err := ts.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, ts.lockError(secondLock, senderNo, err)
	}

	sender, recipient := first, second
	if firstLock != senderNo {
		sender, recipient = second, first
	}

	if sender.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("sender account %s not active", senderNo)
	}
	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	// Daily outbound volume is summed under the sender's row lock, so two
	// in-flight transfers cannot both squeeze under the limit.
	var sentToday int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_no = $1 AND type = $2 AND created_at >= CURRENT_DATE
	`, senderNo, models.EntryTransferOut).Scan(&sentToday)
	if err != nil {
		return nil, fmt.Errorf("check daily limit: %w", err)
	}
	if sentToday+amount > ts.config.DailyLimit {
		return nil, ErrDailyLimitExceeded
	}

	// Conditional debit: even with the row lock held this is the authoritative
	// balance check, so a lost race surfaces as zero rows affected rather than
	// a negative balance.
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE account_no = $2 AND balance >= $1
	`, amount, senderNo)
	if err != nil {
		return nil, fmt.Errorf("debit sender: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE account_no = $2
	`, amount, recipientNo)
	if err != nil {
		return nil, fmt.Errorf("credit recipient: %w", err)
	}

	now := time.Now()
	if err := ts.insertLedgerEntry(ctx, tx, reference, senderNo, recipientNo, recipient.DisplayName, amount, models.EntryTransferOut, narration, now); err != nil {
		return nil, fmt.Errorf("insert debit leg: %w", err)
	}
	if err := ts.insertLedgerEntry(ctx, tx, reference, recipientNo, senderNo, sender.DisplayName, amount, models.EntryTransferIn, narration, now); err != nil {
		return nil, fmt.Errorf("insert credit leg: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	ts.audit.LogTransfer(reference, senderNo, recipientNo, amount, "COMPLETED")

	// Fire-and-forget notification; failure is logged, never propagated.
	go ts.publishTransferEvent(reference, senderNo, recipient.DisplayName, amount)

	return &TransferResult{
		Reference:        reference,
		NewSenderBalance: sender.Balance - amount,
	}, nil
}

// ListTransactions returns the caller's ledger entries
// @Summary List transactions
// @Description Get the authenticated user's ledger entries with optional filtering
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param type query string false "Filter by entry type"
// @Param status query string false "Filter by status"
// @Param limit query int false "Number of entries to return (default 20, max 100)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransferService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountNo, err := ts.accountNoForUser(userID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	entryType := r.URL.Query().Get("type")
	status := r.URL.Query().Get("status")
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := ts.fetchLedgerEntries(r.Context(), accountNo, entryType, status, limit)
	if err != nil {
		log.Printf("[TRANSFER] Failed to fetch ledger entries for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetTransaction returns the caller's leg of a transfer by reference
// @Summary Get transaction by reference
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Ledger reference"
// @Success 200 {object} models.LedgerEntry
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{reference} [get]
func (ts *TransferService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountNo, err := ts.accountNoForUser(userID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	reference := chi.URLParam(r, "reference")

	var entry models.LedgerEntry
	err = ts.db.QueryRowContext(r.Context(), `
		SELECT id, reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at
		FROM transactions
		WHERE reference = $1 AND account_no = $2
	`, reference, accountNo).Scan(
		&entry.ID, &entry.Reference, &entry.AccountNo, &entry.CounterpartyNo, &entry.CounterpartyName,
		&entry.Amount, &entry.Type, &entry.Status, &entry.Narration, &entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSFER] Failed to fetch transaction %s: %v", reference, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (ts *TransferService) writeTransferError(w http.ResponseWriter, senderNo string, err error) {
	switch {
	case errors.Is(err, ErrRecipientNotFound):
		SendErrorCode(w, CodeRecipientNotFound, "Recipient account not found", http.StatusNotFound)
	case errors.Is(err, ErrSelfTransferNotAllowed):
		SendErrorCode(w, CodeSelfTransferNotAllowed, "Cannot transfer to own account", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorCode(w, CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorCode(w, CodeInsufficientFunds, "Insufficient funds", http.StatusBadRequest)
	case errors.Is(err, ErrDailyLimitExceeded):
		SendErrorCode(w, CodeDailyLimitExceeded, "Daily transfer limit reached", http.StatusBadRequest)
	case errors.Is(err, ErrConcurrentModification):
		SendErrorCode(w, CodeConcurrentModification, "Balance changed, please retry", http.StatusConflict)
	default:
		log.Printf("[TRANSFER] Persistence failure for %s: %v", senderNo, err)
		ts.audit.LogError("", senderNo, err)
		SendErrorCode(w, CodePersistenceFailure, "Failed to process transfer", http.StatusInternalServerError)
	}
}

type lockedAccount struct {
	AccountNo   string
	DisplayName string
	Balance     int64
	Status      string
}

func (ts *TransferService) lockAccount(ctx context.Context, tx *sql.Tx, accountNo string) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRowContext(ctx, `
		SELECT account_no, display_name, balance, status
		FROM accounts
		WHERE account_no = $1
		FOR UPDATE`, accountNo).Scan(&account.AccountNo, &account.DisplayName, &account.Balance, &account.Status)

	return &account, err
}

// lockError maps a failed row lock to the right taxonomy: a missing row that
// is not the sender's means the recipient does not exist.
func (ts *TransferService) lockError(lockedNo, senderNo string, err error) error {
	if err == sql.ErrNoRows && lockedNo != senderNo {
		return ErrRecipientNotFound
	}
	if err == sql.ErrNoRows {
		return fmt.Errorf("sender account %s not found", senderNo)
	}
	return fmt.Errorf("lock account %s: %w", lockedNo, err)
}

func (ts *TransferService) insertLedgerEntry(ctx context.Context, tx *sql.Tx, reference, accountNo, counterpartyNo, counterpartyName string, amount int64, entryType, narration string, createdAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, reference, accountNo, counterpartyNo, counterpartyName, amount, entryType, models.EntryStatusCompleted, narration, createdAt)
	return err
}

func (ts *TransferService) accountNoForUser(userID string) (string, error) {
	var accountNo string
	err := ts.db.QueryRow(`SELECT account_no FROM accounts WHERE user_id = $1::integer`, userID).Scan(&accountNo)
	return accountNo, err
}

func (ts *TransferService) fetchLedgerEntries(ctx context.Context, accountNo, entryType, status string, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at
		FROM transactions
		WHERE account_no = $1`
	args := []any{accountNo}
	argIndex := 2

	if entryType != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, entryType)
		argIndex++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.Reference, &entry.AccountNo, &entry.CounterpartyNo, &entry.CounterpartyName,
			&entry.Amount, &entry.Type, &entry.Status, &entry.Narration, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (ts *TransferService) publishTransferEvent(reference, accountNo, counterpartyName string, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := notifications.TransferEvent{
		Type:             "transfer",
		Reference:        reference,
		AccountNo:        accountNo,
		Amount:           amount,
		CounterpartyName: counterpartyName,
		Timestamp:        time.Now(),
	}
	if err := ts.notifier.Publish(ctx, notifications.RouteTransferCompleted, event); err != nil {
		log.Printf("[TRANSFER] Failed to publish notification for %s: %v", reference, err)
	}
}
