package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingSecret is reported when the processor secret key is not
// configured. Handlers answer with a diagnostic error instead of calling
// out to the processor.
var ErrMissingSecret = errors.New("PAYJP_SECRET is not configured")

// ErrMissingPublicKey is reported when the processor public key is not
// configured. The public key is embedded in the hosted-auth redirect URL.
var ErrMissingPublicKey = errors.New("PAYJP_PUBLIC_KEY is not configured")

// Config holds application configuration
type Config struct {
	ServiceName  string
	OTELEndpoint string
	Port         string

	// Processor credentials and endpoints.
	PayJPSecret    string
	PayJPPublicKey string
	PayJPAPIURL    string
	PayJPTDSURL    string

	// Secret used to sign the return URL token. Defaults to the processor
	// secret, matching the reference deployment.
	SigningSecret  string
	ReturnBaseURL  string
	ReturnTokenTTL time.Duration

	// The charge is always created with this amount and currency. Clients
	// never dictate the amount.
	ChargeAmount   int64
	ChargeCurrency string
}

// Load loads configuration from environment variables
func Load() *Config {
	secret := os.Getenv("PAYJP_SECRET")

	return &Config{
		ServiceName:    "checkout-service",
		OTELEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Port:           getEnv("PORT", "8081"),
		PayJPSecret:    secret,
		PayJPPublicKey: os.Getenv("PAYJP_PUBLIC_KEY"),
		PayJPAPIURL:    getEnv("PAYJP_API_URL", "https://api.pay.jp/v1"),
		PayJPTDSURL:    getEnv("PAYJP_TDS_URL", "https://api.pay.jp/v1/tds"),
		SigningSecret:  getEnv("SIGNING_SECRET", secret),
		ReturnBaseURL:  getEnv("RETURN_BASE_URL", "expo-payjp.example.com://confirm"),
		ReturnTokenTTL: getDuration("RETURN_TOKEN_TTL", 15*time.Minute),
		ChargeAmount:   getInt64("CHARGE_AMOUNT", 100),
		ChargeCurrency: getEnv("CHARGE_CURRENCY", "jpy"),
	}
}

// Validate checks that the processor credentials are present. Called once at
// startup and again by handlers so a misconfigured deployment fails with a
// readable error rather than a crash.
func (c *Config) Validate() error {
	if c.PayJPSecret == "" {
		return ErrMissingSecret
	}
	if c.PayJPPublicKey == "" {
		return ErrMissingPublicKey
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
