package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Server
	Env  string
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Tokens are issued by the external identity provider; we only verify them.
	JWTSecret string
	JWTIssuer string

	// bcrypt hash of the key accepted on /internal endpoints
	PipelineAPIKeyHash string

	// Ledger events
	AMQPURL      string
	AMQPExchange string

	// Tracing
	OTLPEndpoint string

	// Ledger engine
	AccessCacheTTL      time.Duration
	AccessCacheSize     int
	MaxSharedPrincipals int
	ArchiveRetention    time.Duration
	ArchiveInterval     time.Duration
	ConflictRetries     int
	ConflictBackoff     time.Duration
}

var appConfig *Config

// Load loads configuration from environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	config := &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "envledger"),
		DBPassword: getEnv("DB_PASSWORD", "envledger"),
		DBName:     getEnv("DB_NAME", "envledger"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret: getEnv("JWT_SECRET", "fallback-secret-key-for-dev-only"),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		PipelineAPIKeyHash: getEnv("PIPELINE_API_KEY_HASH", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger.events"),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		AccessCacheTTL:      getDuration("LEDGER_ACCESS_CACHE_TTL", 30*time.Second),
		AccessCacheSize:     getInt("LEDGER_ACCESS_CACHE_SIZE", 10000),
		MaxSharedPrincipals: getInt("LEDGER_MAX_SHARED_PRINCIPALS", 10),
		ArchiveRetention:    getDuration("LEDGER_ARCHIVE_RETENTION", 2*365*24*time.Hour),
		ArchiveInterval:     getDuration("LEDGER_ARCHIVE_INTERVAL", 24*time.Hour),
		ConflictRetries:     getInt("LEDGER_CONFLICT_RETRIES", 3),
		ConflictBackoff:     getDuration("LEDGER_CONFLICT_BACKOFF", 20*time.Millisecond),
	}

	appConfig = config
	return config, nil
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s value '%s', falling back to %s\n", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Printf("Warning: invalid %s value '%s', falling back to %d\n", key, raw, defaultValue)
		return defaultValue
	}
	return n
}
