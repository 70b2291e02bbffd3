package models

import "time"

// KYC statuses
const (
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

// KYCDocument holds review metadata only; the document bytes live in the
// external document store and are referenced by StorageURL.
type KYCDocument struct {
	ID          int        `json:"id" db:"id"`
	UserID      int        `json:"user_id" db:"user_id"`
	DocType     string     `json:"doc_type" db:"doc_type"`
	StorageURL  string     `json:"storage_url" db:"storage_url"`
	Status      string     `json:"status" db:"status"`
	Remark      string     `json:"remark" db:"remark"`
	SubmittedAt time.Time  `json:"submitted_at" db:"submitted_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}
