package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/wavebank/backend/internal/models"
)

// KYCService records document metadata for identity review. Document bytes
// are uploaded to the external store by the client; only the resulting URL
// passes through here.
type KYCService struct {
	db        *sql.DB
	validator *ValidationHelper
}

type kycSubmissionRequest struct {
	DocType    string `json:"docType" validate:"required,oneof=passport drivers_license national_id utility_bill"`
	StorageURL string `json:"storageUrl" validate:"required,url"`
}

func NewKYCService(db *sql.DB) *KYCService {
	return &KYCService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// Submit records a KYC document for review
// @Summary Submit KYC document
// @Description Register an uploaded identity document for review; the user's KYC status returns to pending
// @Tags kyc
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body kycSubmissionRequest true "Document metadata"
// @Success 201 {object} models.KYCDocument
// @Failure 400 {object} ErrorResponse
// @Router /kyc/documents [post]
func (s *KYCService) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req kycSubmissionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[KYC] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to submit document", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	doc := models.KYCDocument{
		DocType:    req.DocType,
		StorageURL: req.StorageURL,
		Status:     models.KYCStatusPending,
	}
	err = tx.QueryRow(`
		INSERT INTO kyc_documents (user_id, doc_type, storage_url, status, submitted_at)
		VALUES ($1::integer, $2, $3, $4, NOW())
		RETURNING id, user_id, submitted_at`,
		userID, req.DocType, req.StorageURL, models.KYCStatusPending).Scan(&doc.ID, &doc.UserID, &doc.SubmittedAt)
	if err != nil {
		log.Printf("[KYC] Failed to record document for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to submit document", http.StatusInternalServerError, nil)
		return
	}

	// A fresh submission puts the user back into the review queue
	if _, err := tx.Exec("UPDATE users SET kyc_status = $1, updated_at = NOW() WHERE id = $2::integer", models.KYCStatusPending, userID); err != nil {
		log.Printf("[KYC] Failed to reset user %s KYC status: %v", userID, err)
		SendErrorResponse(w, "Failed to submit document", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[KYC] Failed to commit document submission: %v", err)
		SendErrorResponse(w, "Failed to submit document", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[KYC] Document %d submitted by user %s", doc.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(doc)
}

// Status returns the caller's KYC documents and overall status
// @Summary Get KYC status
// @Tags kyc
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{kycStatus=string,documents=[]models.KYCDocument}
// @Router /kyc/status [get]
func (s *KYCService) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var overall string
	if err := s.db.QueryRow("SELECT kyc_status FROM users WHERE id = $1::integer", userID).Scan(&overall); err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[KYC] Failed to fetch status for user %s: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch KYC status", http.StatusInternalServerError, nil)
		}
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, doc_type, storage_url, status, COALESCE(remark, ''), submitted_at, reviewed_at
		FROM kyc_documents
		WHERE user_id = $1::integer
		ORDER BY submitted_at DESC`, userID)
	if err != nil {
		log.Printf("[KYC] Failed to list documents for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch KYC status", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	docs := []models.KYCDocument{}
	for rows.Next() {
		var d models.KYCDocument
		if err := rows.Scan(&d.ID, &d.UserID, &d.DocType, &d.StorageURL, &d.Status, &d.Remark, &d.SubmittedAt, &d.ReviewedAt); err != nil {
			log.Printf("[KYC] Failed to scan document row: %v", err)
			SendErrorResponse(w, "Failed to fetch KYC status", http.StatusInternalServerError, nil)
			return
		}
		docs = append(docs, d)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"kycStatus": overall,
		"documents": docs,
	})
}
