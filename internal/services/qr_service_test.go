package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GeneratePaymentRequest(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(redisClient)

	redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, 5*time.Minute).SetVal("OK")

	qrCode, qrImage, err := service.GeneratePaymentRequest(context.Background(), senderNo, 2500, "lunch")

	assert.NoError(t, err)
	assert.NotEmpty(t, qrCode)
	assert.NotEmpty(t, qrImage)
}

func TestQRService_RedisUnavailable(t *testing.T) {
	service := NewQRService(nil)

	_, _, err := service.GeneratePaymentRequest(context.Background(), senderNo, 2500, "lunch")
	assert.ErrorIs(t, err, ErrQRUnavailable)

	_, err = service.ResolvePaymentRequest(context.Background(), "somecode")
	assert.ErrorIs(t, err, ErrQRUnavailable)
}

func TestQRService_ResolvePaymentRequest(t *testing.T) {
	t.Run("valid code is consumed", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient)

		payload, _ := json.Marshal(map[string]any{
			"accountNo": senderNo,
			"amount":    2500,
			"narration": "lunch",
		})
		redisMock.ExpectGet("qr:somecode").SetVal(string(payload))
		redisMock.ExpectDel("qr:somecode").SetVal(1)

		result, err := service.ResolvePaymentRequest(context.Background(), "somecode")

		assert.NoError(t, err)
		assert.Equal(t, senderNo, result["accountNo"])
		assert.Equal(t, float64(2500), result["amount"])
	})

	t.Run("expired code", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient)

		redisMock.ExpectGet("qr:expired").RedisNil()

		_, err := service.ResolvePaymentRequest(context.Background(), "expired")

		assert.Error(t, err)
	})
}
