package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavebank/backend/internal/audit"
	"github.com/wavebank/backend/internal/models"
)

// SavingsService manages goal-based savings. Goal balances mirror money held
// in the wallet account: a goal deposit debits the wallet and credits the
// goal in the same database transaction, so the wallet balance plus goal
// totals always equals the money the user holds.
type SavingsService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

type createGoalRequest struct {
	Name         string     `json:"name" validate:"required,min=2,max=60"`
	TargetAmount int64      `json:"targetAmount" validate:"required,gt=0"`
	LockUntil    *time.Time `json:"lockUntil,omitempty"`
}

type goalAmountRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func NewSavingsService(db *sql.DB) *SavingsService {
	return &SavingsService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CreateGoal opens a new savings goal
// @Summary Create savings goal
// @Tags savings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createGoalRequest true "Goal details"
// @Success 201 {object} models.SavingsGoal
// @Failure 400 {object} ErrorResponse
// @Router /savings [post]
func (s *SavingsService) CreateGoal(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	var req createGoalRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	goal := models.SavingsGoal{
		AccountNo:    accountNo,
		Name:         req.Name,
		TargetAmount: req.TargetAmount,
		IsLocked:     req.LockUntil != nil,
		LockUntil:    req.LockUntil,
	}

	err := s.db.QueryRow(`
		INSERT INTO savings_goals (account_no, name, target_amount, current_amount, is_locked, lock_until, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, NOW())
		RETURNING id, created_at`,
		accountNo, req.Name, req.TargetAmount, goal.IsLocked, req.LockUntil).Scan(&goal.ID, &goal.CreatedAt)
	if err != nil {
		log.Printf("[SAVINGS] Failed to create goal for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to create goal", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SAVINGS] Goal %d created for account %s", goal.ID, accountNo)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(goal)
}

// ListGoals returns the caller's savings goals
// @Summary List savings goals
// @Tags savings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{goals=[]models.SavingsGoal}
// @Router /savings [get]
func (s *SavingsService) ListGoals(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, account_no, name, target_amount, current_amount, is_locked, lock_until, created_at
		FROM savings_goals
		WHERE account_no = $1
		ORDER BY created_at DESC`, accountNo)
	if err != nil {
		log.Printf("[SAVINGS] Failed to list goals for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to fetch goals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	goals := []models.SavingsGoal{}
	for rows.Next() {
		var g models.SavingsGoal
		if err := rows.Scan(&g.ID, &g.AccountNo, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.IsLocked, &g.LockUntil, &g.CreatedAt); err != nil {
			log.Printf("[SAVINGS] Failed to scan goal row: %v", err)
			SendErrorResponse(w, "Failed to fetch goals", http.StatusInternalServerError, nil)
			return
		}
		goals = append(goals, g)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"goals": goals})
}

// Deposit moves money from the wallet into a goal
// @Summary Deposit into savings goal
// @Tags savings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Goal ID"
// @Param request body goalAmountRequest true "Amount in minor units"
// @Success 200 {object} models.SavingsGoal
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /savings/{id}/deposit [post]
func (s *SavingsService) Deposit(w http.ResponseWriter, r *http.Request) {
	s.moveMoney(w, r, true)
}

// Withdraw moves money from a goal back into the wallet
// @Summary Withdraw from savings goal
// @Tags savings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Goal ID"
// @Param request body goalAmountRequest true "Amount in minor units"
// @Success 200 {object} models.SavingsGoal
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /savings/{id}/withdraw [post]
func (s *SavingsService) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.moveMoney(w, r, false)
}

func (s *SavingsService) moveMoney(w http.ResponseWriter, r *http.Request, intoGoal bool) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	goalID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid goal ID", http.StatusBadRequest, nil)
		return
	}

	var req goalAmountRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[SAVINGS] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var goal models.SavingsGoal
	err = tx.QueryRowContext(r.Context(), `
		SELECT id, account_no, name, target_amount, current_amount, is_locked, lock_until, created_at
		FROM savings_goals
		WHERE id = $1 AND account_no = $2
		FOR UPDATE`, goalID, accountNo).Scan(&goal.ID, &goal.AccountNo, &goal.Name, &goal.TargetAmount, &goal.CurrentAmount, &goal.IsLocked, &goal.LockUntil, &goal.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Goal not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[SAVINGS] Failed to lock goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		}
		return
	}

	if intoGoal {
		// Conditional debit guards the wallet balance
		res, err := tx.ExecContext(r.Context(), `
			UPDATE accounts
			SET balance = balance - $1, version = version + 1, updated_at = NOW()
			WHERE account_no = $2 AND balance >= $1`, req.Amount, accountNo)
		if err != nil {
			log.Printf("[SAVINGS] Failed to debit wallet %s: %v", accountNo, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
			return
		}

		_, err = tx.ExecContext(r.Context(),
			"UPDATE savings_goals SET current_amount = current_amount + $1 WHERE id = $2", req.Amount, goalID)
		if err != nil {
			log.Printf("[SAVINGS] Failed to credit goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
			return
		}
		goal.CurrentAmount += req.Amount
	} else {
		if goal.IsLocked && goal.LockUntil != nil && time.Now().Before(*goal.LockUntil) {
			SendErrorResponse(w, "Goal is locked until "+goal.LockUntil.Format(time.RFC3339), http.StatusLocked, nil)
			return
		}
		if goal.CurrentAmount < req.Amount {
			SendErrorResponse(w, "Insufficient goal balance", http.StatusBadRequest, nil)
			return
		}

		_, err = tx.ExecContext(r.Context(),
			"UPDATE savings_goals SET current_amount = current_amount - $1 WHERE id = $2", req.Amount, goalID)
		if err != nil {
			log.Printf("[SAVINGS] Failed to debit goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
			return
		}

		_, err = tx.ExecContext(r.Context(), `
			UPDATE accounts
			SET balance = balance + $1, version = version + 1, updated_at = NOW()
			WHERE account_no = $2`, req.Amount, accountNo)
		if err != nil {
			log.Printf("[SAVINGS] Failed to credit wallet %s: %v", accountNo, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
			return
		}
		goal.CurrentAmount -= req.Amount
	}

	entryType := models.EntrySavingsDeposit
	if !intoGoal {
		entryType = models.EntrySavingsWithdrawal
	}
	reference := uuid.New().String()
	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO transactions
		(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		reference, accountNo, accountNo, goal.Name, req.Amount, entryType, models.EntryStatusCompleted, "Savings goal: "+goal.Name)
	if err != nil {
		log.Printf("[SAVINGS] Failed to record ledger entry for goal %d: %v", goalID, err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SAVINGS] Failed to commit goal movement: %v", err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogOperation("SAVINGS_"+entryType, reference, accountNo, req.Amount, "COMPLETED")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(goal)
}

// DeleteGoal closes a goal and refunds its balance to the wallet
// @Summary Delete savings goal
// @Description Close a goal; any saved amount is returned to the wallet balance
// @Tags savings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Goal ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /savings/{id} [delete]
func (s *SavingsService) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	goalID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid goal ID", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[SAVINGS] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var current int64
	var isLocked bool
	var lockUntil sql.NullTime
	var name string
	err = tx.QueryRowContext(r.Context(), `
		SELECT name, current_amount, is_locked, lock_until
		FROM savings_goals
		WHERE id = $1 AND account_no = $2
		FOR UPDATE`, goalID, accountNo).Scan(&name, &current, &isLocked, &lockUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Goal not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[SAVINGS] Failed to lock goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
		}
		return
	}

	if isLocked && lockUntil.Valid && time.Now().Before(lockUntil.Time) {
		SendErrorResponse(w, "Goal is locked until "+lockUntil.Time.Format(time.RFC3339), http.StatusLocked, nil)
		return
	}

	if current > 0 {
		_, err = tx.ExecContext(r.Context(), `
			UPDATE accounts
			SET balance = balance + $1, version = version + 1, updated_at = NOW()
			WHERE account_no = $2`, current, accountNo)
		if err != nil {
			log.Printf("[SAVINGS] Failed to refund goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
			return
		}

		reference := uuid.New().String()
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO transactions
			(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			reference, accountNo, accountNo, name, current, models.EntrySavingsWithdrawal, models.EntryStatusCompleted, "Goal closed: "+name)
		if err != nil {
			log.Printf("[SAVINGS] Failed to record refund for goal %d: %v", goalID, err)
			SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
			return
		}
	}

	if _, err = tx.ExecContext(r.Context(), "DELETE FROM savings_goals WHERE id = $1", goalID); err != nil {
		log.Printf("[SAVINGS] Failed to delete goal %d: %v", goalID, err)
		SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SAVINGS] Failed to commit goal deletion: %v", err)
		SendErrorResponse(w, "Failed to delete goal", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SAVINGS] Goal %d deleted for account %s, refunded %d", goalID, accountNo, current)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":  "Goal deleted",
		"refunded": current,
	})
}

func (s *SavingsService) callerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}

	var accountNo string
	if err := s.db.QueryRow("SELECT account_no FROM accounts WHERE user_id = $1::integer", userID).Scan(&accountNo); err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return "", false
	}
	return accountNo, true
}

func (s *SavingsService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
