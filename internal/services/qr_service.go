package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// ErrQRUnavailable is returned when Redis is down; codes cannot be issued or
// consumed without it.
var ErrQRUnavailable = errors.New("payment requests temporarily unavailable")

// QRService issues payment-request QR codes. A code encodes the requesting
// account, amount and a nonce; it is valid for five minutes and consumed on
// first scan.
type QRService struct {
	redis *redis.Client
}

func NewQRService(redisClient *redis.Client) *QRService {
	return &QRService{redis: redisClient}
}

func (s *QRService) GeneratePaymentRequest(ctx context.Context, accountNo string, amount int64, narration string) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrQRUnavailable
	}

	qrData := map[string]any{
		"accountNo": accountNo,
		"amount":    amount,
		"narration": narration,
		"timestamp": time.Now().Unix(),
		"nonce":     s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ResolvePaymentRequest decodes a scanned code and consumes it. The payer
// then completes the transfer through the normal wallet transfer flow.
func (s *QRService) ResolvePaymentRequest(ctx context.Context, qrData string) (map[string]any, error) {
	if s.redis == nil {
		return nil, ErrQRUnavailable
	}

	key := fmt.Sprintf("qr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
