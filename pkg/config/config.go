package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBUrl              string
	RedisURL           string
	RedisPassword      string
	GoogleClientID     string
	GoogleClientSecret string
	JWTSecret          string
	ProviderSecret     string
	ProviderBaseURL    string
	Currency           string
	ConversionRate     decimal.Decimal
	MinConvertible     int64
	MinWithdrawal      int64
	MaxActiveKeys      int
	Port               string
	Host               string
	Env                string
	AllowedOrigins     []string
}

func LoadConfig() Config {
	godotenv.Load()

	rate, err := decimal.NewFromString(getEnvDefault("POINTS_CONVERSION_RATE", "0.10"))
	if err != nil {
		panic("POINTS_CONVERSION_RATE must be a valid decimal")
	}

	return Config{
		DBUrl:              getEnv("DATABASE_URL"),
		RedisURL:           getEnv("REDIS_URL"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET"),
		JWTSecret:          getEnv("JWT_SECRET"),
		ProviderSecret:     getEnv("PROVIDER_SECRET"),
		ProviderBaseURL:    getEnvDefault("PROVIDER_BASE_URL", "https://api.paystack.co"),
		Currency:           getEnvDefault("WALLET_CURRENCY", "USD"),
		ConversionRate:     rate,
		MinConvertible:     getEnvInt64("MIN_CONVERTIBLE_POINTS", 100),
		MinWithdrawal:      getEnvInt64("MIN_WITHDRAWAL_AMOUNT", 500),
		MaxActiveKeys:      int(getEnvInt64("MAX_ACTIVE_KEYS", 5)),
		Port:               getEnv("PORT"),
		Host:               getEnv("HOST"),
		Env:                getEnv("ENV"),
		AllowedOrigins:     strings.Split(getEnv("ALLOWED_ORIGINS"), ","),
	}
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}

func getEnvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid integer", key))
	}
	return parsed
}
