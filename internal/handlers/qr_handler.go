package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wavebank/backend/internal/services"
)

type QRHandler struct {
	db        *sql.DB
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(db *sql.DB, service *services.QRService) *QRHandler {
	return &QRHandler{
		db:        db,
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GeneratePaymentRequest issues a QR code requesting payment to the caller
// @Summary Generate payment request QR
// @Description Create a QR code others can scan to pay the caller a fixed amount
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,narration=string} true "Payment request"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /qr/request [post]
func (h *QRHandler) GeneratePaymentRequest(w http.ResponseWriter, r *http.Request) {
	accountNo, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount    int64  `json:"amount" validate:"required,gt=0"`
		Narration string `json:"narration" validate:"max=200"`
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

	qrCode, qrImage, err := h.service.GeneratePaymentRequest(r.Context(), accountNo, req.Amount, req.Narration)
	if err != nil {
		if errors.Is(err, services.ErrQRUnavailable) {
			services.SendErrorResponse(w, "Payment requests temporarily unavailable", http.StatusServiceUnavailable, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}

// ResolvePaymentRequest decodes a scanned payment request
// @Summary Resolve payment request QR
// @Description Decode a scanned QR code into the recipient account and amount
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "Scanned QR payload"
// @Success 200 {object} object{accountNo=string,amount=int64}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/resolve [post]
func (h *QRHandler) ResolvePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required"`
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

	result, err := h.service.ResolvePaymentRequest(r.Context(), req.QRData)
	if err != nil {
		if errors.Is(err, services.ErrQRUnavailable) {
			services.SendErrorResponse(w, "Payment requests temporarily unavailable", http.StatusServiceUnavailable, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}

func (h *QRHandler) callerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
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
