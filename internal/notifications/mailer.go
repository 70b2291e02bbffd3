package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mailer forwards events to the transactional email provider's HTTP API. The
// provider owns templating and delivery; we only post the event payload with
// a template tag per routing key.
type Mailer struct {
	apiURL    string
	apiKey    string
	fromEmail string
	client    *http.Client
}

func NewMailer(apiURL, apiKey, fromEmail string) *Mailer {
	return &Mailer{
		apiURL:    apiURL,
		apiKey:    apiKey,
		fromEmail: fromEmail,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

var templateTags = map[string]string{
	RouteTransferCompleted:  "transfer-receipt",
	RouteLoanStatusChanged:  "loan-status",
	RouteKYCStatusChanged:   "kyc-status",
	RouteWithdrawalRedeemed: "withdrawal-alert",
}

func (m *Mailer) Dispatch(ctx context.Context, routingKey string, event json.RawMessage) error {
	tag, ok := templateTags[routingKey]
	if !ok {
		return fmt.Errorf("no email template for routing key %s", routingKey)
	}

	payload, err := json.Marshal(map[string]any{
		"from":     m.fromEmail,
		"template": tag,
		"data":     event,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	return nil
}
