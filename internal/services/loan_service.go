package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavebank/backend/internal/audit"
	"github.com/wavebank/backend/internal/models"
)

type LoanService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

type loanApplicationRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	DurationMonths int    `json:"durationMonths" validate:"required,gte=1,lte=36"`
	Purpose        string `json:"purpose" validate:"required,min=3,max=200"`
}

type loanRepaymentRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func NewLoanService(db *sql.DB) *LoanService {
	return &LoanService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// Apply submits a loan application
// @Summary Apply for a loan
// @Description Submit a loan application; it enters the review queue as pending
// @Tags loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body loanApplicationRequest true "Loan application"
// @Success 201 {object} models.Loan
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /loans [post]
func (s *LoanService) Apply(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	var req loanApplicationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	// One open application or active loan at a time
	var open int
	err := s.db.QueryRow("SELECT COUNT(*) FROM loans WHERE account_no = $1 AND status IN ($2, $3)",
		accountNo, models.LoanStatusPending, models.LoanStatusApproved).Scan(&open)
	if err != nil {
		log.Printf("[LOAN] Failed to check open loans for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to submit application", http.StatusInternalServerError, nil)
		return
	}
	if open > 0 {
		SendErrorResponse(w, "An open loan already exists", http.StatusConflict, nil)
		return
	}

	loan := models.Loan{
		AccountNo:      accountNo,
		Amount:         req.Amount,
		DurationMonths: req.DurationMonths,
		Purpose:        req.Purpose,
		Status:         models.LoanStatusPending,
	}
	err = s.db.QueryRow(`
		INSERT INTO loans (account_no, amount, amount_repaid, duration_months, purpose, status, created_at)
		VALUES ($1, $2, 0, $3, $4, $5, NOW())
		RETURNING id, created_at`,
		accountNo, req.Amount, req.DurationMonths, req.Purpose, models.LoanStatusPending).Scan(&loan.ID, &loan.CreatedAt)
	if err != nil {
		log.Printf("[LOAN] Failed to create application for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to submit application", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LOAN] Application %d submitted by account %s for %d", loan.ID, accountNo, req.Amount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(loan)
}

// ListLoans returns the caller's loan applications
// @Summary List loans
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{loans=[]models.Loan}
// @Router /loans [get]
func (s *LoanService) ListLoans(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, account_no, amount, amount_repaid, duration_months, purpose, status, COALESCE(remark, ''), disbursed_at, created_at
		FROM loans
		WHERE account_no = $1
		ORDER BY created_at DESC`, accountNo)
	if err != nil {
		log.Printf("[LOAN] Failed to list loans for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	loans := []models.Loan{}
	for rows.Next() {
		var l models.Loan
		if err := rows.Scan(&l.ID, &l.AccountNo, &l.Amount, &l.AmountRepaid, &l.DurationMonths, &l.Purpose, &l.Status, &l.Remark, &l.DisbursedAt, &l.CreatedAt); err != nil {
			log.Printf("[LOAN] Failed to scan loan row: %v", err)
			SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
			return
		}
		loans = append(loans, l)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"loans": loans})
}

// Repay pays down an approved loan from the wallet balance
// @Summary Repay loan
// @Description Debit the wallet and reduce the outstanding loan; the loan becomes repaid when fully covered
// @Tags loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param request body loanRepaymentRequest true "Repayment amount in minor units"
// @Success 200 {object} models.Loan
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /loans/{id}/repay [post]
func (s *LoanService) Repay(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := s.callerAccount(w, r)
	if !ok {
		return
	}

	loanID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid loan ID", http.StatusBadRequest, nil)
		return
	}

	var req loanRepaymentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[LOAN] Failed to begin repayment transaction: %v", err)
		SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var loan models.Loan
	err = tx.QueryRowContext(r.Context(), `
		SELECT id, account_no, amount, amount_repaid, duration_months, purpose, status, COALESCE(remark, ''), disbursed_at, created_at
		FROM loans
		WHERE id = $1 AND account_no = $2
		FOR UPDATE`, loanID, accountNo).Scan(&loan.ID, &loan.AccountNo, &loan.Amount, &loan.AmountRepaid, &loan.DurationMonths, &loan.Purpose, &loan.Status, &loan.Remark, &loan.DisbursedAt, &loan.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[LOAN] Failed to lock loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		}
		return
	}

	if loan.Status != models.LoanStatusApproved {
		SendErrorResponse(w, "Loan is not open for repayment", http.StatusBadRequest, nil)
		return
	}

	outstanding := loan.Amount - loan.AmountRepaid
	amount := req.Amount
	if amount > outstanding {
		amount = outstanding
	}

	res, err := tx.ExecContext(r.Context(), `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE account_no = $2 AND balance >= $1`, amount, accountNo)
	if err != nil {
		log.Printf("[LOAN] Failed to debit wallet %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
		return
	}

	loan.AmountRepaid += amount
	if loan.AmountRepaid >= loan.Amount {
		loan.Status = models.LoanStatusRepaid
	}

	_, err = tx.ExecContext(r.Context(),
		"UPDATE loans SET amount_repaid = $1, status = $2 WHERE id = $3", loan.AmountRepaid, loan.Status, loanID)
	if err != nil {
		log.Printf("[LOAN] Failed to update loan %d: %v", loanID, err)
		SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		return
	}

	reference := uuid.New().String()
	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO transactions
		(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		reference, accountNo, accountNo, "Loan repayment", amount, models.EntryLoanRepayment, models.EntryStatusCompleted, loan.Purpose)
	if err != nil {
		log.Printf("[LOAN] Failed to record repayment ledger entry: %v", err)
		SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LOAN] Failed to commit repayment: %v", err)
		SendErrorResponse(w, "Failed to process repayment", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogOperation("LOAN_REPAYMENT", reference, accountNo, amount, loan.Status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (s *LoanService) callerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
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

func (s *LoanService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
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
