package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wavebank/backend/internal/models"
)

type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

// NameEnquiry resolves an account number to its display name
// @Summary Name enquiry
// @Description Resolve an account number to the account holder's display name before transferring
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountNo path string true "Account number"
// @Success 200 {object} object{accountNo=string,displayName=string}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountNo}/name [get]
func (s *AccountService) NameEnquiry(w http.ResponseWriter, r *http.Request) {
	accountNo := chi.URLParam(r, "accountNo")

	var displayName, status string
	err := s.db.QueryRow("SELECT display_name, status FROM accounts WHERE account_no = $1", accountNo).Scan(&displayName, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Name enquiry failed for %s: %v", accountNo, err)
			SendErrorResponse(w, "Failed to resolve account", http.StatusInternalServerError, nil)
		}
		return
	}

	if status != models.AccountStatusActive {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"accountNo":   accountNo,
		"displayName": displayName,
	})
}

// Balance returns the caller's current balance
// @Summary Balance enquiry
// @Description Get the authenticated user's wallet balance in minor units
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{accountNo=string,balance=int}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/balance [get]
func (s *AccountService) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var accountNo string
	var balance int64
	err := s.db.QueryRow("SELECT account_no, balance FROM accounts WHERE user_id = $1::integer", userID).Scan(&accountNo, &balance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Balance enquiry failed for user %s: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountNo": accountNo,
		"balance":   balance,
	})
}

// Dashboard aggregates the caller's balance, recent activity and product positions
// @Summary Account dashboard
// @Description Get balance, recent transactions, savings total and active loan for the home screen
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/dashboard [get]
func (s *AccountService) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var accountNo, displayName string
	var balance int64
	err := s.db.QueryRow("SELECT account_no, display_name, balance FROM accounts WHERE user_id = $1::integer", userID).Scan(&accountNo, &displayName, &balance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Dashboard fetch failed for user %s: %v", userID, err)
			SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
		}
		return
	}

	recent, err := s.recentEntries(r, accountNo)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch recent transactions for %s: %v", accountNo, err)
		SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
		return
	}

	var savingsTotal int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(current_amount), 0) FROM savings_goals WHERE account_no = $1", accountNo).Scan(&savingsTotal); err != nil {
		log.Printf("[ACCOUNT] Failed to sum savings for %s: %v", accountNo, err)
	}

	var activeLoan sql.NullInt64
	if err := s.db.QueryRow("SELECT amount - amount_repaid FROM loans WHERE account_no = $1 AND status = $2", accountNo, models.LoanStatusApproved).Scan(&activeLoan); err != nil && err != sql.ErrNoRows {
		log.Printf("[ACCOUNT] Failed to fetch active loan for %s: %v", accountNo, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountNo":          accountNo,
		"displayName":        displayName,
		"balance":            balance,
		"savingsTotal":       savingsTotal,
		"loanOutstanding":    activeLoan.Int64,
		"recentTransactions": recent,
	})
}

func (s *AccountService) recentEntries(r *http.Request, accountNo string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at
		FROM transactions
		WHERE account_no = $1
		ORDER BY created_at DESC LIMIT $2`, accountNo, 5)
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
