package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Engine Configuration
//
// All tunables come from environment variables. Secrets (DATABASE_URL,
// API_AUTH_TOKEN, REDIS_PASSWORD) have no fallback defaults; operational
// knobs fall back to the documented production defaults. Use a .env file
// for local development: cp .env.example .env && edit .env
// ──────────────────────────────────────────────────────────────────────

// AnalyzerDeadlines holds the per-branch timeout budget of the fan-out.
type AnalyzerDeadlines struct {
	Program  time.Duration
	Patterns time.Duration
	ML       time.Duration
	Account  time.Duration
}

// Config is the full engine configuration.
type Config struct {
	Port string

	// Parser
	MaxRequestSize int // byte ceiling for the base64-decoded blob

	// Pipeline
	PipelineDeadline  time.Duration
	AnalyzerDeadlines AnalyzerDeadlines
	ExplainerDeadline time.Duration

	// Admission layer
	QueueMaxSize        int
	WorkerCount         int
	ConcurrencyLimit    int
	CircuitBreakerTrips int           // failures inside the rolling window that open the breaker
	CircuitBreakerReset time.Duration // open-state duration

	// Cache tier
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Fingerprint
	FingerprintHash string // "sha256" or "sha256d"

	// ML
	MLModelPath          string
	FallbackRulesEnabled bool

	// Pattern catalogue
	PatternFile           string
	PatternReloadInterval time.Duration // 0 disables the internal reload ticker

	// Account analyzer
	AuthorityDataThreshold int // data bytes above which an authority change is suspected

	// Collaborators
	DatabaseURL  string
	ExplainerURL string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port: getEnvOrDefault("PORT", "5340"),

		MaxRequestSize: getEnvInt("MAX_REQUEST_SIZE", 65536),

		PipelineDeadline: getEnvMillis("PIPELINE_DEADLINE_MS", 1700),
		AnalyzerDeadlines: AnalyzerDeadlines{
			Program:  getEnvMillis("PROGRAM_DEADLINE_MS", 50),
			Patterns: getEnvMillis("PATTERN_DEADLINE_MS", 100),
			ML:       getEnvMillis("ML_DEADLINE_MS", 500),
			Account:  getEnvMillis("ACCOUNT_DEADLINE_MS", 150),
		},
		ExplainerDeadline: getEnvMillis("EXPLAINER_DEADLINE_MS", 1000),

		QueueMaxSize:        getEnvInt("QUEUE_MAX_SIZE", 1000),
		WorkerCount:         getEnvInt("WORKER_COUNT", 20),
		ConcurrencyLimit:    getEnvInt("CONCURRENCY_LIMIT", 100),
		CircuitBreakerTrips: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 10),
		CircuitBreakerReset: time.Duration(getEnvInt("CIRCUIT_BREAKER_RESET_SECONDS", 60)) * time.Second,

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		FingerprintHash: getEnvOrDefault("FINGERPRINT_HASH", "sha256"),

		MLModelPath:          os.Getenv("ML_MODEL_PATH"),
		FallbackRulesEnabled: getEnvOrDefault("FALLBACK_RULES_ENABLED", "true") == "true",

		PatternFile:           os.Getenv("PATTERN_FILE"),
		PatternReloadInterval: getEnvMillis("PATTERN_RELOAD_INTERVAL_MS", 0),

		AuthorityDataThreshold: getEnvInt("AUTHORITY_DATA_THRESHOLD", 200),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ExplainerURL: os.Getenv("EXPLAINER_URL"),
	}
}

// RequireEnv reads a required environment variable and exits if it is not
// set. This prevents the binary from starting with missing critical
// configuration.
func RequireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
		log.Printf("[Config] Ignoring non-integer %s=%q, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}
