package notifications

import "time"

const (
	Exchange = "banking_events"

	RouteTransferCompleted  = "transfer.completed"
	RouteLoanStatusChanged  = "loan.status"
	RouteKYCStatusChanged   = "kyc.status"
	RouteWithdrawalRedeemed = "withdrawal.redeemed"
)

// TransferEvent is emitted after a wallet transfer commits. Delivery is
// best-effort; the transfer itself never depends on it.
type TransferEvent struct {
	Type             string    `json:"type"`
	Reference        string    `json:"reference"`
	AccountNo        string    `json:"accountNo"`
	Amount           int64     `json:"amount"`
	CounterpartyName string    `json:"counterpartyName"`
	Timestamp        time.Time `json:"timestamp"`
}

type LoanStatusEvent struct {
	Type      string    `json:"type"`
	LoanID    int       `json:"loanId"`
	AccountNo string    `json:"accountNo"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Remark    string    `json:"remark,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type KYCStatusEvent struct {
	Type       string    `json:"type"`
	UserID     int       `json:"userId"`
	DocumentID int       `json:"documentId"`
	Status     string    `json:"status"`
	Remark     string    `json:"remark,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type WithdrawalEvent struct {
	Type      string    `json:"type"`
	Reference string    `json:"reference"`
	AccountNo string    `json:"accountNo"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
