package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	// AdminKey gates the moderation HTTP surface.
	AdminKey string

	// FilterMode is "soft" (mask profanity), "block" (reject the message)
	// or "off".
	FilterMode string

	// SaveRawIP controls whether audit rows keep the raw client IP or a
	// salted hash of it.
	SaveRawIP bool
	IPSalt    string

	MaxFileMB int64
	UploadDir string

	HistoryLimit int
	PinLimit     int

	IPLimitTokens   int
	IPLimitWindow   time.Duration
	UserLimitTokens int
	UserLimitWindow time.Duration

	AuditRetention time.Duration
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] Loaded .env file")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		AdminKey:    getEnv("ADMIN_KEY", ""),
		FilterMode:  getEnv("FILTER_MODE", "soft"),
		SaveRawIP:   getEnv("SAVE_RAW_IP", "1") != "0",
		IPSalt:      getEnv("IP_SALT", "change-me"),
		MaxFileMB:   getEnvInt64("MAX_FILE_MB", 12),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		HistoryLimit: int(getEnvInt64("HISTORY_LIMIT", 120)),
		PinLimit:     int(getEnvInt64("PIN_LIMIT", 25)),

		IPLimitTokens:   int(getEnvInt64("IP_LIMIT_TOKENS", 12)),
		IPLimitWindow:   getEnvDuration("IP_LIMIT_WINDOW", 10*time.Second),
		UserLimitTokens: int(getEnvInt64("USER_LIMIT_TOKENS", 10)),
		UserLimitWindow: getEnvDuration("USER_LIMIT_WINDOW", 10*time.Second),

		AuditRetention: getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)

	if cfg.DatabaseURL == "" {
		log.Fatal("[CONFIG] CRITICAL: DATABASE_URL is missing. Server cannot start.")
	} else {
		log.Printf("[CONFIG] Database URL detected: %s", maskDBSource(cfg.DatabaseURL))
	}

	if cfg.AdminKey == "" {
		log.Fatal("[CONFIG] CRITICAL: ADMIN_KEY is missing. Moderation surface cannot be initialized.")
	}

	switch cfg.FilterMode {
	case "soft", "block", "off":
	default:
		log.Printf("[CONFIG] Unknown FILTER_MODE %q, falling back to soft", cfg.FilterMode)
		cfg.FilterMode = "soft"
	}

	if !cfg.SaveRawIP && cfg.IPSalt == "change-me" {
		log.Println("[CONFIG] WARNING: hashing IPs with the default IP_SALT")
	}

	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvInt64(key string, defaultValue int64) int64 {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("[CONFIG] Variable %s is not a number (%q), using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[CONFIG] Variable %s is not a duration (%q), using default: %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}
