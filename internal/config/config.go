package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPredictEndpoint = "http://localhost:8000/api/predict/"

type Config struct {
	HTTPPort string

	PredictEndpoint         string
	PredictTimeout          time.Duration
	PredictBreakerThreshold int
	PredictBreakerCooldown  time.Duration

	RedisAddr          string
	StateTTL           time.Duration
	RateLimitPerMinute int

	SessionSecret  string
	CookieSecure   bool
	GoogleClientID string

	AppName    string
	AppVersion string

	EnableGoogleLogin bool
	EnableEmailLogin  bool
	EnableAnalytics   bool
	DebugMode         bool
}

// NewConfig loads an optional .env file and then reads the environment.
func NewConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		PredictEndpoint:         getEnv("PREDICT_ENDPOINT", DefaultPredictEndpoint),
		PredictTimeout:          getDuration("PREDICT_TIMEOUT", 0),
		PredictBreakerThreshold: getInt("PREDICT_BREAKER_THRESHOLD", 0),
		PredictBreakerCooldown:  getDuration("PREDICT_BREAKER_COOLDOWN", 10*time.Second),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		StateTTL:           getDuration("STATE_TTL", 24*time.Hour),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 0),

		SessionSecret:  getEnv("SESSION_SECRET", "dev-session-secret"),
		CookieSecure:   getBool("COOKIE_SECURE", false),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),

		AppName:    getEnv("APP_NAME", "Smart Crop Rotation Planner"),
		AppVersion: getEnv("APP_VERSION", "dev"),

		EnableGoogleLogin: getBool("ENABLE_GOOGLE_LOGIN", true),
		EnableEmailLogin:  getBool("ENABLE_EMAIL_LOGIN", true),
		EnableAnalytics:   getBool("ENABLE_ANALYTICS", false),
		DebugMode:         getBool("DEBUG_MODE", false),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

// getDuration accepts Go durations ("5s") or a bare number of milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	slog.Warn("Invalid duration in environment, using default", "key", key, "value", raw)
	return fallback
}
