package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	KieAPIKey        string
	KieBaseURL       string
	FalAPIKey        string
	FalBaseURL       string
	GatewayAPIKey    string
	GatewayBaseURL   string
	GatewayModel     string
	MusicCallbackURL string
	AtomicDebit      bool

	CORSAllowedOrigins []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	PollerInterval   time.Duration
	PollerBatchSize  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		KieAPIKey:        os.Getenv("KIE_API_KEY"),
		KieBaseURL:       getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		FalAPIKey:        os.Getenv("FAL_API_KEY"),
		FalBaseURL:       getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		GatewayAPIKey:    os.Getenv("GATEWAY_API_KEY"),
		GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", "https://gateway.ai.internal/v1"),
		GatewayModel:     getEnv("GATEWAY_MODEL", "gpt-image-1"),
		MusicCallbackURL: os.Getenv("MUSIC_CALLBACK_URL"),
		AtomicDebit:      getEnvBool("CREDITS_ATOMIC_DEBIT", false),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		PollerInterval:   time.Second * time.Duration(getEnvInt("POLLER_INTERVAL_SECONDS", 15)),
		PollerBatchSize:  getEnvInt("POLLER_BATCH_SIZE", 20),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
