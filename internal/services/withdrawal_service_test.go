package services

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestWithdrawalService_GenerateCode(t *testing.T) {
	t.Run("issues a code without debiting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		rateKey := fmt.Sprintf("withdrawal:ratelimit:%s", senderNo)
		redisMock.ExpectGet(rateKey).RedisNil()

		mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM accounts WHERE account_no = $1")).
			WithArgs(senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10000))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_codes")).
			WillReturnResult(sqlmock.NewResult(1, 1))

		redisMock.ExpectIncr(rateKey).SetVal(1)
		redisMock.ExpectExpire(rateKey, time.Hour).SetVal(true)

		code, err := service.GenerateCode(context.Background(), senderNo, 5000)

		assert.NoError(t, err)
		assert.Len(t, code.Code, 8)
		assert.Equal(t, senderNo, code.AccountNo)
		assert.Equal(t, int64(5000), code.Amount)
		assert.False(t, code.Used)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects when balance too low", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		redisMock.ExpectGet(fmt.Sprintf("withdrawal:ratelimit:%s", senderNo)).RedisNil()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM accounts WHERE account_no = $1")).
			WithArgs(senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1000))

		_, err = service.GenerateCode(context.Background(), senderNo, 5000)

		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("enforces rate limit", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		redisMock.ExpectGet(fmt.Sprintf("withdrawal:ratelimit:%s", senderNo)).SetVal("5")

		_, err = service.GenerateCode(context.Background(), senderNo, 5000)

		assert.ErrorIs(t, err, ErrRateLimitExceeded)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		_, err = service.GenerateCode(context.Background(), senderNo, 0)

		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestWithdrawalService_Redeem(t *testing.T) {
	codeColumns := []string{"reference", "account_no", "amount", "created_at", "expires_at", "used"}

	t.Run("debits wallet and consumes code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		publisher := newCapturePublisher()
		service := NewWithdrawalService(db, redisClient, publisher)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM withdrawal_codes")).
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("ref-9", senderNo, 5000, time.Now(), time.Now().Add(10*time.Minute), false))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance - $1")).
			WithArgs(int64(5000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("SET used = true")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		result, err := service.Redeem(context.Background(), "12345678")

		assert.NoError(t, err)
		assert.Equal(t, "ref-9", result.Reference)
		assert.True(t, result.Used)
		assert.NoError(t, mock.ExpectationsWereMet())

		select {
		case key := <-publisher.events:
			assert.Equal(t, "withdrawal.redeemed", key)
		case <-time.After(time.Second):
			t.Fatal("expected a withdrawal event to be published")
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM withdrawal_codes")).
			WillReturnRows(sqlmock.NewRows(codeColumns))
		mock.ExpectRollback()

		_, err = service.Redeem(context.Background(), "00000000")

		assert.ErrorIs(t, err, ErrCodeInvalid)
	})

	t.Run("used code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM withdrawal_codes")).
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("ref-9", senderNo, 5000, time.Now(), time.Now().Add(10*time.Minute), true))
		mock.ExpectRollback()

		_, err = service.Redeem(context.Background(), "12345678")

		assert.ErrorIs(t, err, ErrCodeUsed)
	})

	t.Run("expired code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM withdrawal_codes")).
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("ref-9", senderNo, 5000, time.Now().Add(-time.Hour), time.Now().Add(-10*time.Minute), false))
		mock.ExpectRollback()

		_, err = service.Redeem(context.Background(), "12345678")

		assert.ErrorIs(t, err, ErrCodeExpired)
	})

	t.Run("balance spent since code issued", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewWithdrawalService(db, redisClient, newCapturePublisher())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM withdrawal_codes")).
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("ref-9", senderNo, 5000, time.Now(), time.Now().Add(10*time.Minute), false))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance - $1")).
			WithArgs(int64(5000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err = service.Redeem(context.Background(), "12345678")

		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}
