package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	AccountNo string    `json:"account_no"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger emits a structured JSON line for every money movement so that the
// ledger can be reconciled against the application log.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(reference, fromAccount, toAccount string, amount int64, status string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		Reference: reference,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(reference, accountNo string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountNo: accountNo,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(operation, reference, accountNo string, amount int64, status string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		AccountNo: accountNo,
		Amount:    amount,
		Status:    status,
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
