package models

import "time"

// Account status values
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusClosed    = "closed"
)

// Account is a user's monetary balance record, addressed by a 10-digit
// account number. Balance is held in minor units (kobo).
type Account struct {
	AccountNo   string    `json:"account_no" db:"account_no"`
	UserID      int       `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Balance     int64     `json:"balance" db:"balance"`
	Version     int       `json:"version" db:"version"` // for optimistic locking
	Status      string    `json:"status" db:"status"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
