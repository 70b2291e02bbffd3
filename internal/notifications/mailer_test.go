package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailer_Dispatch(t *testing.T) {
	t.Run("posts event with template tag", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
			json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		mailer := NewMailer(server.URL, "key-123", "no-reply@wavebank.app")

		event, _ := json.Marshal(TransferEvent{Type: "transfer", Reference: "ref-1", AccountNo: "1111111111", Amount: 1500})
		err := mailer.Dispatch(context.Background(), RouteTransferCompleted, event)

		assert.NoError(t, err)
		assert.Equal(t, "transfer-receipt", received["template"])
		assert.Equal(t, "no-reply@wavebank.app", received["from"])
	})

	t.Run("unknown routing key", func(t *testing.T) {
		mailer := NewMailer("http://localhost:0", "key", "from@example.com")

		err := mailer.Dispatch(context.Background(), "unknown.route", json.RawMessage(`{}`))

		assert.Error(t, err)
	})

	t.Run("provider error surfaces", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		mailer := NewMailer(server.URL, "key", "from@example.com")

		err := mailer.Dispatch(context.Background(), RouteLoanStatusChanged, json.RawMessage(`{}`))

		assert.Error(t, err)
	})
}

func TestNoopProducer(t *testing.T) {
	producer := &NoopProducer{}

	err := producer.Publish(context.Background(), RouteTransferCompleted, TransferEvent{Reference: "ref-1"})

	assert.NoError(t, err)
	producer.Close()
}
