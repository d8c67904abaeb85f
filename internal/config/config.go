package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server
	ServerAddr string
	Env        string // "development" or "production"

	// Database. DatabaseURL wins if set; otherwise assembled from the
	// discrete DB_* vars spec.md names.
	DatabaseURL string

	// Auth
	JWTSecret     string
	JWTExpiresIn  time.Duration

	// URLs
	AppBaseURL string
	APIBaseURL string

	// Static files / uploads. The upload size cap itself is
	// domain.MaxUploadBytes, not configurable per spec.md §6.
	StaticDir  string
	UploadsDir string

	// WebRTC / TURN
	ICESTUNURLs  []string
	ICETURNURLs  []string
	TURNUsername string
	TURNPassword string

	// RateLimitPerMin caps authenticated REST requests per user.
	RateLimitPerMin int

	// R2 / File Storage (used when StorageBackend == "r2")
	StorageBackend    string // "local" or "r2"
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2Endpoint        string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnvOrDefault("PORT", "3000")
	cfg := &Config{
		ServerAddr:  getEnvOrDefault("SERVER_ADDR", "0.0.0.0:"+port),
		Env:         getEnvOrDefault("APP_ENV", "development"),
		DatabaseURL: buildDatabaseURL(),
		AppBaseURL:  getEnvOrDefault("APP_BASE_URL", "http://localhost:5173"),
		APIBaseURL:  getEnvOrDefault("API_BASE_URL", "http://localhost:"+port),
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTExpiresIn = parseDuration(getEnvOrDefault("JWT_EXPIRES_IN", "7d"), 7*24*time.Hour)

	cfg.StaticDir = os.Getenv("STATIC_DIR")
	cfg.UploadsDir = getEnvOrDefault("UPLOADS_DIR", "./uploads")

	cfg.ICESTUNURLs = splitEnv("ICE_STUN_URLS", "stun:stun.l.google.com:19302")
	cfg.ICETURNURLs = splitEnv("ICE_TURN_URLS", "")
	cfg.TURNUsername = os.Getenv("TURN_USERNAME")
	cfg.TURNPassword = os.Getenv("TURN_PASSWORD")

	cfg.RateLimitPerMin = getEnvIntOrDefault("RATE_LIMIT_PER_MIN", 120)

	cfg.StorageBackend = getEnvOrDefault("STORAGE_BACKEND", "local")
	cfg.R2AccountID = os.Getenv("R2_ACCOUNT_ID")
	cfg.R2AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	cfg.R2SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	cfg.R2Bucket = os.Getenv("R2_BUCKET")
	cfg.R2Endpoint = getEnvOrDefault("R2_ENDPOINT", fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildDatabaseURL prefers a single DATABASE_URL (the teacher's own
// docker-compose convention) and falls back to assembling a DSN from the
// discrete DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD vars spec.md names.
func buildDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := getEnvOrDefault("DB_PORT", "5432")
	name := getEnvOrDefault("DB_NAME", "chattime")
	user := getEnvOrDefault("DB_USER", "chattime")
	password := os.Getenv("DB_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}

// parseDuration accepts Go's native duration syntax plus a trailing bare
// "d" suffix for whole days, matching JWT_EXPIRES_IN's documented default.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_HOST) is required")
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.JWTSecret == "" {
		c.JWTSecret = "dev-insecure-secret-do-not-use-in-production"
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// splitEnv splits a comma-separated env var into a slice.
func splitEnv(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
