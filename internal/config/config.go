package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	IdentityBackend string
	IdentityBaseURL string
	IdentityTimeout time.Duration

	VerifyBaseURL     string
	VerifyTimeout     time.Duration
	VerifySimulate    bool
	VerifySuccessBias float64

	RedisAddr     string
	RedisPassword string

	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	SessionOpTimeout time.Duration
	QRCodeTTL        time.Duration

	RefreshJobEnabled  bool
	RefreshJobInterval time.Duration
	RefreshJobTimeout  time.Duration
}

func Load() Config {
	// Missing .env is fine; real deployments configure the process env.
	_ = godotenv.Load()

	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8084"),

		IdentityBackend: getenv("IDENTITY_BACKEND", "fake"),
		IdentityBaseURL: getenv("IDENTITY_BASE_URL", "http://127.0.0.1:9094"),
		IdentityTimeout: getenvDuration("IDENTITY_TIMEOUT", 10*time.Second),

		VerifyBaseURL:     getenv("VERIFY_BASE_URL", "http://127.0.0.1:9095"),
		VerifyTimeout:     getenvDuration("VERIFY_TIMEOUT", 10*time.Second),
		VerifySimulate:    getenvBool("VERIFY_SIMULATE_FALLBACK", true),
		VerifySuccessBias: getenvFloat("VERIFY_SUCCESS_BIAS", 0.8),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		JWTSecret:      getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer:      getenv("JWT_ISSUER", "rollcall-shell"),
		AccessTokenTTL: getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),

		SessionOpTimeout: getenvDuration("SESSION_OP_TIMEOUT", 15*time.Second),
		QRCodeTTL:        getenvDuration("QR_CODE_TTL", 5*time.Minute),

		RefreshJobEnabled:  getenvBool("IDENTITY_REFRESH_JOB_ENABLED", true),
		RefreshJobInterval: getenvDuration("IDENTITY_REFRESH_JOB_INTERVAL", time.Minute),
		RefreshJobTimeout:  getenvDuration("IDENTITY_REFRESH_JOB_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
