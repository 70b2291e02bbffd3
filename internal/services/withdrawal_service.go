package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wavebank/backend/internal/audit"
	"github.com/wavebank/backend/internal/config"
	"github.com/wavebank/backend/internal/models"
	"github.com/wavebank/backend/internal/notifications"
)

var (
	ErrCodeInvalid       = errors.New("invalid withdrawal code")
	ErrCodeUsed          = errors.New("withdrawal code already used")
	ErrCodeExpired       = errors.New("withdrawal code expired")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// WithdrawalCode is a one-time code redeemable at an agent or ATM for cash.
// Only the SHA-256 hash is stored; the clear code is shown to the user once.
type WithdrawalCode struct {
	Code      string    `json:"code,omitempty"`
	Reference string    `json:"reference"`
	AccountNo string    `json:"accountNo"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
	Used      bool      `json:"used"`
}

type WithdrawalService struct {
	db       *sql.DB
	redis    *redis.Client
	notifier notifications.Publisher
	audit    *audit.Logger
	config   *config.WithdrawalConfig
}

func NewWithdrawalService(db *sql.DB, redisClient *redis.Client, notifier notifications.Publisher) *WithdrawalService {
	return &WithdrawalService{
		db:       db,
		redis:    redisClient,
		notifier: notifier,
		audit:    audit.NewLogger(),
		config:   config.LoadWithdrawalConfig(),
	}
}

// GenerateCode issues a new withdrawal code for the account. The wallet is
// not debited until the code is redeemed.
func (s *WithdrawalService) GenerateCode(ctx context.Context, accountNo string, amount int64) (*WithdrawalCode, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := s.checkRateLimit(ctx, accountNo); err != nil {
		log.Printf("[WITHDRAWAL] Rate limit hit for %s: %v", accountNo, err)
		return nil, err
	}

	var balance int64
	if err := s.db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE account_no = $1", accountNo).Scan(&balance); err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	code := s.generateSecureCode()
	hashedCode := s.hashCode(code)
	reference := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.config.CodeTimeout)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_codes (reference, code_hash, account_no, amount, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, reference, hashedCode, accountNo, amount, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("store withdrawal code: %w", err)
	}

	s.incrementRateLimit(ctx, accountNo)

	log.Printf("[WITHDRAWAL] Code issued for %s, reference %s, expires %v", accountNo, reference, expiresAt)

	return &WithdrawalCode{
		Code:      code,
		Reference: reference,
		AccountNo: accountNo,
		Amount:    amount,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Redeem consumes a code and debits the wallet in one transaction. The row
// lock on the code and the conditional debit together make redemption
// exactly-once.
func (s *WithdrawalService) Redeem(ctx context.Context, code string) (*WithdrawalCode, error) {
	hashedCode := s.hashCode(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var wc WithdrawalCode
	var used bool
	err = tx.QueryRowContext(ctx, `
		SELECT reference, account_no, amount, created_at, expires_at, used
		FROM withdrawal_codes
		WHERE code_hash = $1
		FOR UPDATE
	`, hashedCode).Scan(&wc.Reference, &wc.AccountNo, &wc.Amount, &wc.CreatedAt, &wc.ExpiresAt, &used)

	if err == sql.ErrNoRows {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	if used {
		return nil, ErrCodeUsed
	}
	if time.Now().After(wc.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE account_no = $2 AND balance >= $1
	`, wc.Amount, wc.AccountNo)
	if err != nil {
		return nil, fmt.Errorf("debit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE withdrawal_codes
		SET used = true, used_at = $1
		WHERE code_hash = $2
	`, time.Now(), hashedCode)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		wc.Reference, wc.AccountNo, wc.AccountNo, "Cash withdrawal", wc.Amount, models.EntryWithdrawal, models.EntryStatusCompleted, "Cardless withdrawal")
	if err != nil {
		return nil, fmt.Errorf("record withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	wc.Used = true
	s.audit.LogOperation("WITHDRAWAL", wc.Reference, wc.AccountNo, wc.Amount, "COMPLETED")

	go s.publishWithdrawalEvent(wc.Reference, wc.AccountNo, wc.Amount)

	return &wc, nil
}

// ListCodes returns the account's codes with the clear code masked.
func (s *WithdrawalService) ListCodes(ctx context.Context, accountNo string) ([]WithdrawalCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, account_no, amount, created_at, expires_at, used
		FROM withdrawal_codes
		WHERE account_no = $1
		ORDER BY expires_at DESC
	`, accountNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []WithdrawalCode
	for rows.Next() {
		var wc WithdrawalCode
		var used bool
		if err := rows.Scan(&wc.Reference, &wc.AccountNo, &wc.Amount, &wc.CreatedAt, &wc.ExpiresAt, &used); err != nil {
			return nil, err
		}

		wc.Expired = time.Now().After(wc.ExpiresAt) || used
		wc.Used = used
		wc.Code = "***" // Masked for security
		codes = append(codes, wc)
	}

	return codes, rows.Err()
}

// CleanupExpiredCodes removes stale rows; run periodically.
func (s *WithdrawalService) CleanupExpiredCodes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM withdrawal_codes
		WHERE expires_at < $1 OR (used = true AND used_at < $2)
	`, time.Now(), time.Now().Add(-24*time.Hour))
	return err
}

func (s *WithdrawalService) generateSecureCode() string {
	const charset = "0123456789"
	code := make([]byte, s.config.CodeLength)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := range code {
		n, _ := rand.Int(rand.Reader, charsetLen)
		code[i] = charset[n.Int64()]
	}

	return string(code)
}

func (s *WithdrawalService) hashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	for i := 1; i < s.config.HashIterations; i++ {
		hash = sha256.Sum256(hash[:])
	}
	return hex.EncodeToString(hash[:])
}

func (s *WithdrawalService) checkRateLimit(ctx context.Context, accountNo string) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("withdrawal:ratelimit:%s", accountNo)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.config.MaxGenerationPerUser {
		return ErrRateLimitExceeded
	}

	return nil
}

func (s *WithdrawalService) incrementRateLimit(ctx context.Context, accountNo string) {
	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("withdrawal:ratelimit:%s", accountNo)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.RateLimitWindow)
	pipe.Exec(ctx)
}

func (s *WithdrawalService) publishWithdrawalEvent(reference, accountNo string, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := notifications.WithdrawalEvent{
		Type:      "withdrawal",
		Reference: reference,
		AccountNo: accountNo,
		Amount:    amount,
		Timestamp: time.Now(),
	}
	if err := s.notifier.Publish(ctx, notifications.RouteWithdrawalRedeemed, event); err != nil {
		log.Printf("[WITHDRAWAL] Failed to publish event for %s: %v", reference, err)
	}
}
