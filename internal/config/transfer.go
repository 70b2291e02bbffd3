package config

import (
	"os"
	"strconv"
	"time"
)

// TransferConfig carries limits for wallet transfers. Amounts are in minor
// units (kobo).
type TransferConfig struct {
	MinAmount  int64
	MaxAmount  int64
	DailyLimit int64
}

func LoadTransferConfig() *TransferConfig {
	return &TransferConfig{
		MinAmount:  getEnvAsInt64("TRANSFER_MIN_AMOUNT", 100),
		MaxAmount:  getEnvAsInt64("TRANSFER_MAX_AMOUNT", 500_000_000),
		DailyLimit: getEnvAsInt64("TRANSFER_DAILY_LIMIT", 2_000_000_000),
	}
}

type WithdrawalConfig struct {
	CodeLength           int
	CodeTimeout          time.Duration
	MaxGenerationPerUser int
	RateLimitWindow      time.Duration
	HashIterations       int
}

func LoadWithdrawalConfig() *WithdrawalConfig {
	return &WithdrawalConfig{
		CodeLength:           getEnvAsInt("WITHDRAWAL_CODE_LENGTH", 8),
		CodeTimeout:          getEnvAsDuration("WITHDRAWAL_CODE_TIMEOUT", 15*time.Minute),
		MaxGenerationPerUser: getEnvAsInt("WITHDRAWAL_MAX_GEN_PER_USER", 5),
		RateLimitWindow:      getEnvAsDuration("WITHDRAWAL_RATE_LIMIT_WINDOW", 1*time.Hour),
		HashIterations:       getEnvAsInt("WITHDRAWAL_HASH_ITERATIONS", 10000),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
