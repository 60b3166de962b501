// Package config provides configuration loading for the orchestrator service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the orchestrator service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Store backends: "memory" or "redis"
	WorkflowStore  string
	ExecutionStore string
	LogStore       string
	ExecutionTTL   time.Duration
	EventMaxLen    int64

	// Auth configuration
	AuthMode         string // "disabled", "static" or "oidc"
	JWTSecret        string
	JWTTTL           time.Duration
	StaticUsers      []string // "username:password:role" entries
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64

	// Archive configuration
	ArchiveEnabled bool
	ArchiveBackend string // "memory" or "s3"
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	PresignTTL     time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Stores
		WorkflowStore:  getEnv("WORKFLOW_STORE", "memory"),
		ExecutionStore: getEnv("EXECUTION_STORE", "memory"),
		LogStore:       getEnv("LOG_STORE", "memory"),
		ExecutionTTL:   getDuration("EXECUTION_TTL", 7*24*time.Hour), // 7 days
		EventMaxLen:    getInt64("EVENT_MAX_LEN", 5000),

		// Auth
		AuthMode:         getEnv("AUTH_MODE", "disabled"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getDuration("JWT_TTL", 8*time.Hour),
		StaticUsers:      getStringSlice("AUTH_USERS", nil),
		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled:  getBool("TRACING_ENABLED", false),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRate: getFloat("TRACE_SAMPLE_RATE", 1.0),

		// Archive
		ArchiveEnabled: getBool("ARCHIVE_ENABLED", false),
		ArchiveBackend: getEnv("ARCHIVE_BACKEND", "memory"),
		S3Bucket:       getEnv("S3_BUCKET", "flowmesh-archive"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: getBool("S3_USE_PATH_STYLE", false),
		PresignTTL:     getDuration("PRESIGN_TTL", 15*time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
