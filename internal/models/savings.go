package models

import "time"

// SavingsGoal belongs to one account. CurrentAmount changes are mirrored by
// an opposite change to the owning account's balance and a paired ledger
// entry, all inside one database transaction.
type SavingsGoal struct {
	ID            int        `json:"id" db:"id"`
	AccountNo     string     `json:"account_no" db:"account_no"`
	Name          string     `json:"name" db:"name"`
	TargetAmount  int64      `json:"target_amount" db:"target_amount"`
	CurrentAmount int64      `json:"current_amount" db:"current_amount"`
	IsLocked      bool       `json:"is_locked" db:"is_locked"`
	LockUntil     *time.Time `json:"lock_until,omitempty" db:"lock_until"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
