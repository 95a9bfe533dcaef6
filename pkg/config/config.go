// Package config loads server settings from the environment and
// jurisdiction profiles from YAML files.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string
	// DatabaseURL selects the ledger store: postgres:// DSNs use the
	// Postgres driver, file: or plain paths use embedded SQLite, and
	// "memory" keeps the chain in process (tests, demos).
	DatabaseURL string
	// RedisURL enables shared ack cursors for alert subscribers.
	// Empty keeps cursors in process memory.
	RedisURL string
	// SigningMasterKey seeds per-key-id ML-DSA keys via HKDF.
	SigningMasterKey string
	// SigningKeyID is the active key id. Rotation means a new id.
	SigningKeyID string
	// AuthSecret signs and verifies API bearer tokens.
	AuthSecret string
	// ProfilesDir holds jurisdiction profile YAMLs.
	ProfilesDir string
	// OTLPEndpoint enables metrics export when set.
	OTLPEndpoint string

	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		LogLevel:         getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:      getenv("DATABASE_URL", "file:auditchain.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SigningMasterKey: os.Getenv("SIGNING_MASTER_KEY"),
		SigningKeyID:     getenv("SIGNING_KEY_ID", "key-1"),
		AuthSecret:       os.Getenv("AUTH_SECRET"),
		ProfilesDir:      getenv("PROFILES_DIR", "profiles"),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		RateLimitRPS:     50,
		RateLimitBurst:   100,
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
