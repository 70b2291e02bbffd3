package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthTestConfig() {
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestAuthService_Register(t *testing.T) {
	setAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	t.Run("creates user and account together", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WithArgs("ada@example.com", sqlmock.AnyArg(), "Ada", "Obi", "+2348012345678", "user", "pending").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WithArgs(sqlmock.AnyArg(), 1, "Ada Obi", 0, 1, "active").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]string{
			"email":       "Ada@example.com",
			"password":    "password123",
			"firstName":   "Ada",
			"lastName":    "Obi",
			"phoneNumber": "+2348012345678",
		})
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "ada@example.com", response.User.Email)
		assert.Len(t, response.User.AccountNo, 10)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]string{
			"email":       "ada@example.com",
			"password":    "password123",
			"firstName":   "Ada",
			"lastName":    "Obi",
			"phoneNumber": "+2348012345678",
		})
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"email":    "not-an-email",
			"password": "short",
		})
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte(`{"email":"a@b.com","bogus":true}`)))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	userColumns := []string{"id", "email", "first_name", "last_name", "password", "role", "kyc_status", "account_no"}

	t.Run("valid credentials", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(1, "ada@example.com", "Ada", "Obi", hashed, "user", "approved", senderNo))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login = NOW()")).
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(map[string]string{"email": "ada@example.com", "password": "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, senderNo, response.User.AccountNo)
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(1, "ada@example.com", "Ada", "Obi", hashed, "user", "approved", senderNo))

		body, _ := json.Marshal(map[string]string{"email": "ada@example.com", "password": "wrongpass"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs("ghost@example.com").
			WillReturnError(assert.AnError)

		body, _ := json.Marshal(map[string]string{"email": "ghost@example.com", "password": "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	setAuthTestConfig()

	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	redisMock.ExpectSet("blacklist:sometoken", "1", 24*time.Hour).SetVal("OK")

	r := httptest.NewRequest("POST", "/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()

	service.Logout(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPasswordHashing(t *testing.T) {
	setAuthTestConfig()

	hashed, err := hashPassword("s3cret-pass")
	assert.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hashed)

	assert.True(t, verifyPassword("s3cret-pass", hashed))
	assert.False(t, verifyPassword("wrong-pass", hashed))
	assert.False(t, verifyPassword("s3cret-pass", "malformed"))
}

func TestGenerateAccountNo(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		no := generateAccountNo()
		assert.Len(t, no, 10)
		for _, c := range no {
			assert.True(t, c >= '0' && c <= '9')
		}
		seen[no] = true
	}
	// Collisions across 100 draws from a 10^10 space would indicate a broken generator
	assert.Greater(t, len(seen), 95)
}
