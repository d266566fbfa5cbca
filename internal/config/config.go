// Package config loads process configuration from the environment (and an
// optional .env file in development), following the pattern in
// adhtanjung-maukmn-api-alpha's internal/config/config.go. Unlike alya's
// config.Config (which layers a File loader and a Rigel/etcd dynamic loader
// behind a common interface), this repo has no component that needs live
// config watching -- spec §6's Configuration block is a flat list of env
// vars, so a single typed struct loaded once at startup is sufficient.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}
}

// Config holds every tunable named in spec §6 plus the connection info for
// the subsystem's three stores and the two external credentials.
type Config struct {
	// Worker / rate-limit tunables (spec §6).
	WorkerConcurrency      int
	RateLimitFlash         int
	RateLimitPro           int
	PromptConcurrencyFlash int
	PromptConcurrencyPro   int
	RateWindow             time.Duration
	JobMaxAttempts         int
	JobBaseDelay           time.Duration

	// Rate gate backend. "redis" (default, cross-process) or "local"
	// (single-process fallback, spec §9 -- must be explicitly selected).
	RateGateBackend string

	// Store endpoints.
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Credentials (C8).
	CredentialEncKey string
	GeminiAPIKey     string

	// Bearer-token verification for the HTTP surface (spec §6: "auth via
	// bearer token or cookie"). HS256 rather than alya's OIDC discovery flow
	// since this subsystem has no identity provider of its own to trust.
	JWTSigningKey string

	// Loaded from EXECUTION_CACHE_TTL_SEC but read by no component:
	// ExecutionRepo reads are not cached.
	ExecutionCacheTTL time.Duration

	// HTTP.
	ListenAddr     string
	AllowedOrigins []string
}

func Load() (*Config, error) {
	c := &Config{
		WorkerConcurrency:      envInt("WORKER_CONCURRENCY", 3),
		RateLimitFlash:         envInt("GEMINI_RATE_LIMIT_FLASH", 500),
		RateLimitPro:           envInt("GEMINI_RATE_LIMIT_PRO", 100),
		PromptConcurrencyFlash: envInt("PROMPT_CONCURRENCY_FLASH", 15),
		PromptConcurrencyPro:   envInt("PROMPT_CONCURRENCY_PRO", 10),
		RateWindow:             time.Duration(envInt("GEMINI_RATE_WINDOW", 60000)) * time.Millisecond,
		JobMaxAttempts:         envInt("JOB_MAX_ATTEMPTS", 3),
		JobBaseDelay:           time.Duration(envInt("JOB_BASE_DELAY_MS", 2000)) * time.Millisecond,
		RateGateBackend:        envStr("RATEGATE_BACKEND", "redis"),
		DatabaseURL:            envStr("DATABASE_URL", ""),
		RedisAddr:              envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          envStr("REDIS_PASSWORD", ""),
		MinioEndpoint:          envStr("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:         envStr("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:         envStr("MINIO_SECRET_KEY", ""),
		MinioBucket:            envStr("MINIO_BUCKET", "masstock"),
		MinioUseSSL:            envBool("MINIO_USE_SSL", false),
		CredentialEncKey:       envStr("CREDENTIAL_ENC_KEY", ""),
		GeminiAPIKey:           envStr("GEMINI_API_KEY", ""),
		JWTSigningKey:          envStr("JWT_SIGNING_KEY", ""),
		ExecutionCacheTTL:      time.Duration(envInt("EXECUTION_CACHE_TTL_SEC", 5)) * time.Second,
		ListenAddr:             envStr("LISTEN_ADDR", ":8080"),
		AllowedOrigins:         []string{envStr("ALLOWED_ORIGIN", "http://localhost:3000")},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fails fast on configuration that would make the process useless
// -- mirrors alya's config.Config.Check().
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.CredentialEncKey == "" {
		return fmt.Errorf("CREDENTIAL_ENC_KEY is required")
	}
	if c.RateGateBackend != "redis" && c.RateGateBackend != "local" {
		return fmt.Errorf("RATEGATE_BACKEND must be \"redis\" or \"local\", got %q", c.RateGateBackend)
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
