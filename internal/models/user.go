package models

import "time"

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          int        `json:"id" example:"1"`                       // User ID
	Email       string     `json:"email" example:"user@example.com"`     // User email
	FirstName   string     `json:"firstName" example:"John"`             // User first name
	LastName    string     `json:"lastName" example:"Doe"`               // User last name
	AccountNo   string     `json:"accountNo" example:"1234567890"`       // User account number
	PhoneNumber string     `json:"phoneNumber" example:"+2348012345678"` // User phone number
	Role        string     `json:"role" example:"user"`
	KYCStatus   string     `json:"kycStatus" example:"pending"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
