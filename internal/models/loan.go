package models

import "time"

// Loan status values
const (
	LoanStatusPending  = "pending"
	LoanStatusApproved = "approved"
	LoanStatusRejected = "rejected"
	LoanStatusRepaid   = "repaid"
)

type Loan struct {
	ID             int        `json:"id" db:"id"`
	AccountNo      string     `json:"account_no" db:"account_no"`
	Amount         int64      `json:"amount" db:"amount"` // principal, minor units
	AmountRepaid   int64      `json:"amount_repaid" db:"amount_repaid"`
	DurationMonths int        `json:"duration_months" db:"duration_months"`
	Purpose        string     `json:"purpose" db:"purpose"`
	Status         string     `json:"status" db:"status"`
	Remark         string     `json:"remark" db:"remark"`
	DisbursedAt    *time.Time `json:"disbursed_at,omitempty" db:"disbursed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
