package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port   string
	AppEnv string

	// Database settings
	DatabaseURL string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Supabase Storage settings
	SupabaseURL        string
	SupabaseServiceKey string
	BucketIDProofs     string
	BucketCaseFiles    string
	BucketDocuments    string

	// Payment settings
	PaymentProvider     string // "mock" or "stripe"
	DevPaymentSecret    string
	StripeSecretKey     string
	StripeWebhookSecret string
	FrontendURL         string

	// Geolocation settings
	IPAPIBaseURL   string
	GeocodeBaseURL string
	GeoCountry     string
	GeoTimeout     time.Duration
	GeoCacheTTL    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Port:   getEnv("PORT", "3000"),
		AppEnv: getEnv("APP_ENV", "dev"),

		// JWT_SECRET is read directly by the auth package at issue/verify
		// time, not carried here.
		DatabaseURL: os.Getenv("DATABASE_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		BucketIDProofs:     getEnv("SUPABASE_BUCKET_ID_PROOFS", "id-proofs"),
		BucketCaseFiles:    getEnv("SUPABASE_BUCKET_CASE_FILES", "case-files"),
		BucketDocuments:    getEnv("SUPABASE_BUCKET_DOCUMENTS", "documents"),

		PaymentProvider:     getEnv("PAYMENT_PROVIDER", "mock"),
		DevPaymentSecret:    os.Getenv("DEV_PAYMENT_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:5173"),

		IPAPIBaseURL:   getEnv("IP_API_BASE_URL", "http://ip-api.com"),
		GeocodeBaseURL: getEnv("GEOCODE_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeoCountry:     getEnv("GEO_COUNTRY", "in"),
	}

	geoTimeout, err := strconv.Atoi(getEnv("GEO_TIMEOUT_SECONDS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_TIMEOUT_SECONDS: %w", err)
	}
	cfg.GeoTimeout = time.Duration(geoTimeout) * time.Second

	geoTTL, err := strconv.Atoi(getEnv("GEO_CACHE_TTL_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_CACHE_TTL_MINUTES: %w", err)
	}
	cfg.GeoCacheTTL = time.Duration(geoTTL) * time.Minute

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
