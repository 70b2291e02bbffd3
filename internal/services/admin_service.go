package services

import (
	"context"
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
	"github.com/wavebank/backend/internal/notifications"
)

// AdminService backs the review and reporting endpoints. All routes using it
// sit behind the AdminOnly middleware.
type AdminService struct {
	db        *sql.DB
	notifier  notifications.Publisher
	audit     *audit.Logger
	validator *ValidationHelper
}

type reviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Remark   string `json:"remark" validate:"max=200"`
}

func NewAdminService(db *sql.DB, notifier notifications.Publisher) *AdminService {
	return &AdminService{
		db:        db,
		notifier:  notifier,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// ListUsers returns registered users with account and KYC state
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{users=[]models.User,count=int}
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT users.id, email, first_name, last_name, phone_number, role, kyc_status, COALESCE(accounts.account_no, ''), users.created_at
		FROM users
		LEFT JOIN accounts ON users.id = accounts.user_id
		ORDER BY users.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		log.Printf("[ADMIN] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role, &u.KYCStatus, &u.AccountNo, &u.CreatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan user row: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"users": users,
		"count": len(users),
	})
}

// PendingKYC returns documents awaiting review
// @Summary List pending KYC documents
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{documents=[]models.KYCDocument}
// @Router /admin/kyc/pending [get]
func (s *AdminService) PendingKYC(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, doc_type, storage_url, status, COALESCE(remark, ''), submitted_at, reviewed_at
		FROM kyc_documents
		WHERE status = $1
		ORDER BY submitted_at ASC`, models.KYCStatusPending)
	if err != nil {
		log.Printf("[ADMIN] Failed to list pending KYC: %v", err)
		SendErrorResponse(w, "Failed to fetch documents", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	docs := []models.KYCDocument{}
	for rows.Next() {
		var d models.KYCDocument
		if err := rows.Scan(&d.ID, &d.UserID, &d.DocType, &d.StorageURL, &d.Status, &d.Remark, &d.SubmittedAt, &d.ReviewedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan KYC row: %v", err)
			SendErrorResponse(w, "Failed to fetch documents", http.StatusInternalServerError, nil)
			return
		}
		docs = append(docs, d)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": docs})
}

// ReviewKYC approves or rejects a pending document
// @Summary Review KYC document
// @Description Record a review decision; the user's overall KYC status follows the document decision
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Param request body reviewRequest true "Review decision"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/kyc/{id}/review [post]
func (s *AdminService) ReviewKYC(w http.ResponseWriter, r *http.Request) {
	docID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid document ID", http.StatusBadRequest, nil)
		return
	}

	var req reviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[ADMIN] Failed to begin KYC review: %v", err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var userID int
	var status string
	err = tx.QueryRowContext(r.Context(),
		"SELECT user_id, status FROM kyc_documents WHERE id = $1 FOR UPDATE", docID).Scan(&userID, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Document not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ADMIN] Failed to lock KYC document %d: %v", docID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		}
		return
	}

	if status != models.KYCStatusPending {
		SendErrorResponse(w, "Document already reviewed", http.StatusBadRequest, nil)
		return
	}

	_, err = tx.ExecContext(r.Context(),
		"UPDATE kyc_documents SET status = $1, remark = $2, reviewed_at = NOW() WHERE id = $3",
		req.Decision, req.Remark, docID)
	if err != nil {
		log.Printf("[ADMIN] Failed to update KYC document %d: %v", docID, err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}

	_, err = tx.ExecContext(r.Context(),
		"UPDATE users SET kyc_status = $1, updated_at = NOW() WHERE id = $2", req.Decision, userID)
	if err != nil {
		log.Printf("[ADMIN] Failed to update user %d KYC status: %v", userID, err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ADMIN] Failed to commit KYC review: %v", err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] KYC document %d reviewed: %s", docID, req.Decision)
	go s.publishKYCEvent(userID, docID, req.Decision, req.Remark)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"documentId": docID,
		"status":     req.Decision,
	})
}

// PendingLoans returns loan applications awaiting review
// @Summary List pending loans
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{loans=[]models.Loan}
// @Router /admin/loans/pending [get]
func (s *AdminService) PendingLoans(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, account_no, amount, amount_repaid, duration_months, purpose, status, COALESCE(remark, ''), disbursed_at, created_at
		FROM loans
		WHERE status = $1
		ORDER BY created_at ASC`, models.LoanStatusPending)
	if err != nil {
		log.Printf("[ADMIN] Failed to list pending loans: %v", err)
		SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	loans := []models.Loan{}
	for rows.Next() {
		var l models.Loan
		if err := rows.Scan(&l.ID, &l.AccountNo, &l.Amount, &l.AmountRepaid, &l.DurationMonths, &l.Purpose, &l.Status, &l.Remark, &l.DisbursedAt, &l.CreatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan loan row: %v", err)
			SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
			return
		}
		loans = append(loans, l)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"loans": loans})
}

// ReviewLoan approves or rejects a pending loan application
// @Summary Review loan application
// @Description Approval disburses the principal to the wallet in the same transaction as the status change
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param request body reviewRequest true "Review decision"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/loans/{id}/review [post]
func (s *AdminService) ReviewLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid loan ID", http.StatusBadRequest, nil)
		return
	}

	var req reviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[ADMIN] Failed to begin loan review: %v", err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var accountNo, status string
	var amount int64
	err = tx.QueryRowContext(r.Context(),
		"SELECT account_no, amount, status FROM loans WHERE id = $1 FOR UPDATE", loanID).Scan(&accountNo, &amount, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ADMIN] Failed to lock loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		}
		return
	}

	if status != models.LoanStatusPending {
		SendErrorResponse(w, "Loan already reviewed", http.StatusBadRequest, nil)
		return
	}

	if req.Decision == models.LoanStatusApproved {
		_, err = tx.ExecContext(r.Context(),
			"UPDATE loans SET status = $1, remark = $2, disbursed_at = NOW() WHERE id = $3",
			models.LoanStatusApproved, req.Remark, loanID)
		if err != nil {
			log.Printf("[ADMIN] Failed to approve loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
			return
		}

		// Disbursement credits the wallet atomically with the approval
		_, err = tx.ExecContext(r.Context(), `
			UPDATE accounts
			SET balance = balance + $1, version = version + 1, updated_at = NOW()
			WHERE account_no = $2`, amount, accountNo)
		if err != nil {
			log.Printf("[ADMIN] Failed to disburse loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
			return
		}

		reference := uuid.New().String()
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO transactions
			(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			reference, accountNo, accountNo, "Loan disbursement", amount, models.EntryLoanDisbursement, models.EntryStatusCompleted, "Loan approved")
		if err != nil {
			log.Printf("[ADMIN] Failed to record disbursement for loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
			return
		}

		s.audit.LogOperation("LOAN_DISBURSEMENT", reference, accountNo, amount, "COMPLETED")
	} else {
		_, err = tx.ExecContext(r.Context(),
			"UPDATE loans SET status = $1, remark = $2 WHERE id = $3",
			models.LoanStatusRejected, req.Remark, loanID)
		if err != nil {
			log.Printf("[ADMIN] Failed to reject loan %d: %v", loanID, err)
			SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ADMIN] Failed to commit loan review: %v", err)
		SendErrorResponse(w, "Failed to record review", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] Loan %d reviewed: %s", loanID, req.Decision)
	go s.publishLoanEvent(loanID, accountNo, amount, req.Decision, req.Remark)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"loanId": loanID,
		"status": req.Decision,
	})
}

// TransactionReport aggregates ledger activity by entry type
// @Summary Transaction report
// @Description Count and sum ledger entries per type over a date range
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param from query string false "Start date (RFC 3339, default 30 days ago)"
// @Param to query string false "End date (RFC 3339, default now)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/reports/transactions [get]
func (s *AdminService) TransactionReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT type, COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE created_at >= $1 AND created_at <= $2 AND status = $3
		GROUP BY type
		ORDER BY type`, from, to, models.EntryStatusCompleted)
	if err != nil {
		log.Printf("[ADMIN] Failed to build transaction report: %v", err)
		SendErrorResponse(w, "Failed to build report", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	type typeSummary struct {
		Type  string `json:"type"`
		Count int64  `json:"count"`
		Total int64  `json:"total"`
	}
	summaries := []typeSummary{}
	for rows.Next() {
		var ts typeSummary
		if err := rows.Scan(&ts.Type, &ts.Count, &ts.Total); err != nil {
			log.Printf("[ADMIN] Failed to scan report row: %v", err)
			SendErrorResponse(w, "Failed to build report", http.StatusInternalServerError, nil)
			return
		}
		summaries = append(summaries, ts)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"from":   from,
		"to":     to,
		"byType": summaries,
	})
}

func (s *AdminService) publishLoanEvent(loanID int, accountNo string, amount int64, status, remark string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := notifications.LoanStatusEvent{
		Type:      "loan_status",
		LoanID:    loanID,
		AccountNo: accountNo,
		Amount:    amount,
		Status:    status,
		Remark:    remark,
		Timestamp: time.Now(),
	}
	if err := s.notifier.Publish(ctx, notifications.RouteLoanStatusChanged, event); err != nil {
		log.Printf("[ADMIN] Failed to publish loan event for %d: %v", loanID, err)
	}
}

func (s *AdminService) publishKYCEvent(userID, docID int, status, remark string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := notifications.KYCStatusEvent{
		Type:       "kyc_status",
		UserID:     userID,
		DocumentID: docID,
		Status:     status,
		Remark:     remark,
		Timestamp:  time.Now(),
	}
	if err := s.notifier.Publish(ctx, notifications.RouteKYCStatusChanged, event); err != nil {
		log.Printf("[ADMIN] Failed to publish KYC event for user %d: %v", userID, err)
	}
}

func (s *AdminService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
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
