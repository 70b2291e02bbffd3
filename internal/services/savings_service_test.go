package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func savingsRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)
	r := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	return r.WithContext(context.WithValue(r.Context(), "userID", "1"))
}

func expectCallerAccount(mock sqlmock.Sqlmock, accountNo string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT account_no FROM accounts WHERE user_id = $1::integer")).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"account_no"}).AddRow(accountNo))
}

func TestSavingsService_CreateGoal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSavingsService(db)

	t.Run("creates goal", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO savings_goals")).
			WithArgs(senderNo, "New laptop", int64(50000), false, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

		r := savingsRequest(t, "POST", "/savings", map[string]any{"name": "New laptop", "targetAmount": 50000})
		w := httptest.NewRecorder()

		service.CreateGoal(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(7), response["id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects missing name", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)

		r := savingsRequest(t, "POST", "/savings", map[string]any{"targetAmount": 50000})
		w := httptest.NewRecorder()

		service.CreateGoal(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSavingsService_Deposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSavingsService(db)

	router := chi.NewRouter()
	router.Post("/savings/{id}/deposit", service.Deposit)

	t.Run("moves money from wallet into goal", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no", "name", "target_amount", "current_amount", "is_locked", "lock_until", "created_at"}).
				AddRow(7, senderNo, "New laptop", 50000, 1000, false, nil, time.Now()))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance - $1")).
			WithArgs(int64(2000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE savings_goals SET current_amount = current_amount + $1")).
			WithArgs(int64(2000), 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		r := savingsRequest(t, "POST", "/savings/7/deposit", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(3000), response["current_amount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient wallet balance", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no", "name", "target_amount", "current_amount", "is_locked", "lock_until", "created_at"}).
				AddRow(7, senderNo, "New laptop", 50000, 1000, false, nil, time.Now()))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance - $1")).
			WithArgs(int64(2000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		r := savingsRequest(t, "POST", "/savings/7/deposit", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("goal not found", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(99, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		r := savingsRequest(t, "POST", "/savings/99/deposit", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSavingsService_Withdraw(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSavingsService(db)

	router := chi.NewRouter()
	router.Post("/savings/{id}/withdraw", service.Withdraw)

	t.Run("locked goal rejects withdrawal", func(t *testing.T) {
		lockUntil := time.Now().Add(30 * 24 * time.Hour)

		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no", "name", "target_amount", "current_amount", "is_locked", "lock_until", "created_at"}).
				AddRow(7, senderNo, "Emergency fund", 50000, 10000, true, lockUntil, time.Now()))
		mock.ExpectRollback()

		r := savingsRequest(t, "POST", "/savings/7/withdraw", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusLocked, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal over goal balance rejected", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no", "name", "target_amount", "current_amount", "is_locked", "lock_until", "created_at"}).
				AddRow(7, senderNo, "New laptop", 50000, 1000, false, nil, time.Now()))
		mock.ExpectRollback()

		r := savingsRequest(t, "POST", "/savings/7/withdraw", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("expired lock allows withdrawal", func(t *testing.T) {
		lockUntil := time.Now().Add(-24 * time.Hour)

		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no", "name", "target_amount", "current_amount", "is_locked", "lock_until", "created_at"}).
				AddRow(7, senderNo, "Emergency fund", 50000, 10000, true, lockUntil, time.Now()))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE savings_goals SET current_amount = current_amount - $1")).
			WithArgs(int64(2000), 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance + $1")).
			WithArgs(int64(2000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		r := savingsRequest(t, "POST", "/savings/7/withdraw", map[string]any{"amount": 2000})
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSavingsService_DeleteGoal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSavingsService(db)

	router := chi.NewRouter()
	router.Delete("/savings/{id}", service.DeleteGoal)

	t.Run("refunds saved amount on delete", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(7, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"name", "current_amount", "is_locked", "lock_until"}).
				AddRow("New laptop", 3000, false, nil))
		mock.ExpectExec(regexp.QuoteMeta("SET balance = balance + $1")).
			WithArgs(int64(3000), senderNo).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM savings_goals WHERE id = $1")).
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		r := savingsRequest(t, "DELETE", "/savings/7", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(3000), response["refunded"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty goal deletes without refund entry", func(t *testing.T) {
		expectCallerAccount(mock, senderNo)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM savings_goals")).
			WithArgs(8, senderNo).
			WillReturnRows(sqlmock.NewRows([]string{"name", "current_amount", "is_locked", "lock_until"}).
				AddRow("Empty goal", 0, false, nil))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM savings_goals WHERE id = $1")).
			WithArgs(8).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		r := savingsRequest(t, "DELETE", "/savings/8", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
