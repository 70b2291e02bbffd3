package models

import "time"

// Ledger entry types
const (
	EntryDeposit           = "deposit"
	EntryWithdrawal        = "withdrawal"
	EntryTransferIn        = "transfer_in"
	EntryTransferOut       = "transfer_out"
	EntryLoanDisbursement  = "loan_disbursement"
	EntryLoanRepayment     = "loan_repayment"
	EntrySavingsDeposit    = "savings_deposit"
	EntrySavingsWithdrawal = "savings_withdrawal"
)

// Ledger entry statuses
const (
	EntryStatusPending   = "pending"
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
)

// LedgerEntry is an immutable record of one leg of a money movement.
// Amount is always positive; the entry type carries the direction. The two
// legs of a transfer share the same Reference.
type LedgerEntry struct {
	ID               int       `json:"id" db:"id"`
	Reference        string    `json:"reference" db:"reference"`
	AccountNo        string    `json:"account_no" db:"account_no"`
	CounterpartyNo   string    `json:"counterparty_no" db:"counterparty_no"`
	CounterpartyName string    `json:"counterparty_name" db:"counterparty_name"`
	Amount           int64     `json:"amount" db:"amount"` // minor units
	Type             string    `json:"type" db:"type"`
	Status           string    `json:"status" db:"status"`
	Narration        string    `json:"narration" db:"narration"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ExternalTransferRequest is a transfer to an account at another bank,
// settled through the payment processor.
type ExternalTransferRequest struct {
	FromAccountNo string `json:"fromAccountNo" validate:"required,len=10"`
	ToAccountNo   string `json:"toAccountNo" validate:"required,min=10,max=20"`
	ToBankCode    string `json:"toBankCode" validate:"required,min=3,max=6"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Narration     string `json:"narration" validate:"max=200"`
}
