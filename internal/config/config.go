package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	AuthModeJWT    = "jwt"
	AuthModeGoTrue = "gotrue"
)

type Config struct {
	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string
	AuthMode               string

	// Database
	DatabaseURL string

	// Prediction service
	PredictionAPIURL      string
	PredictionFallbackURL string

	// Gemini
	GeminiAPIKey     string
	GeminiAPIBaseURL string
	GeminiModel      string

	// Timeouts for external calls
	StorageTimeout    time.Duration
	PredictionTimeout time.Duration
	SynthesisTimeout  time.Duration
	DatabaseTimeout   time.Duration

	KnowledgeCacheTTL time.Duration
	MaxUploadBytes    int64

	// Server
	Port        string
	Environment string
	BaseURL     string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabasePublishableKey: getEnv("SUPABASE_PUBLISHABLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "flower_images"),
		AuthMode:               getEnv("AUTH_MODE", AuthModeJWT),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		PredictionAPIURL:      getEnv("PREDICTION_API_URL", "http://localhost:8000"),
		PredictionFallbackURL: getEnv("PREDICTION_FALLBACK_URL", ""),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiAPIBaseURL: getEnv("GEMINI_API_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		StorageTimeout:    getDuration("STORAGE_TIMEOUT", 30*time.Second),
		PredictionTimeout: getDuration("PREDICTION_TIMEOUT", 30*time.Second),
		SynthesisTimeout:  getDuration("SYNTHESIS_TIMEOUT", 60*time.Second),
		DatabaseTimeout:   getDuration("DATABASE_TIMEOUT", 10*time.Second),

		KnowledgeCacheTTL: getDuration("KNOWLEDGE_CACHE_TTL", 10*time.Minute),
		MaxUploadBytes:    getInt64("MAX_UPLOAD_BYTES", 10<<20),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabasePublishableKey == "" {
		return fmt.Errorf("SUPABASE_PUBLISHABLE_KEY is required")
	}
	switch c.AuthMode {
	case AuthModeJWT:
		if c.SupabaseJWTSecret == "" {
			return fmt.Errorf("SUPABASE_JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case AuthModeGoTrue:
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeJWT, AuthModeGoTrue, c.AuthMode)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.PredictionAPIURL == "" {
		return fmt.Errorf("PREDICTION_API_URL is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return defaultValue
}
