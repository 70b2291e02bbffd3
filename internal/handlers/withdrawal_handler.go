package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wavebank/backend/internal/services"
)

type WithdrawalHandler struct {
	db        *sql.DB
	service   *services.WithdrawalService
	validator *services.ValidationHelper
}

func NewWithdrawalHandler(db *sql.DB, service *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		db:        db,
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateCode issues a cardless withdrawal code
// @Summary Generate withdrawal code
// @Description Create a one-time code redeemable for cash at an agent or ATM
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Withdrawal amount in minor units"
// @Success 201 {object} services.WithdrawalCode
// @Failure 400 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /withdrawals/codes [post]
func (h *WithdrawalHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, err := h.service.GenerateCode(r.Context(), accountNo, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRateLimitExceeded):
			services.SendErrorResponse(w, "Too many codes requested, try again later", http.StatusTooManyRequests, nil)
		case errors.Is(err, services.ErrInsufficientFunds):
			services.SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
		case errors.Is(err, services.ErrInvalidAmount):
			services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		default:
			services.SendErrorResponse(w, "Failed to generate code", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(code)
}

// Redeem consumes a withdrawal code and dispenses the cash amount
// @Summary Redeem withdrawal code
// @Description Validate a code, debit the owning wallet and mark the code used
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Withdrawal code"
// @Success 200 {object} services.WithdrawalCode
// @Failure 400 {object} services.ErrorResponse
// @Failure 410 {object} services.ErrorResponse
// @Router /withdrawals/redeem [post]
func (h *WithdrawalHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required,numeric"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Redeem(r.Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCodeInvalid):
			services.SendErrorResponse(w, "Invalid withdrawal code", http.StatusBadRequest, nil)
		case errors.Is(err, services.ErrCodeUsed):
			services.SendErrorResponse(w, "Code already used", http.StatusGone, nil)
		case errors.Is(err, services.ErrCodeExpired):
			services.SendErrorResponse(w, "Code expired", http.StatusGone, nil)
		case errors.Is(err, services.ErrInsufficientFunds):
			services.SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
		default:
			services.SendErrorResponse(w, "Failed to redeem code", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListCodes returns the caller's withdrawal codes
// @Summary List withdrawal codes
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{codes=[]services.WithdrawalCode}
// @Router /withdrawals/codes [get]
func (h *WithdrawalHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	codes, err := h.service.ListCodes(r.Context(), accountNo)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch codes", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"codes": codes})
}

func (h *WithdrawalHandler) callerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}

	var accountNo string
	if err := h.db.QueryRow("SELECT account_no FROM accounts WHERE user_id = $1::integer", userID).Scan(&accountNo); err != nil {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return "", false
	}
	return accountNo, true
}
