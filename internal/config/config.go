package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported values for PLATFORM.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

type Config struct {
	// Server configuration
	Port     string
	Mode     string
	LogLevel string
	APIKey   string

	// Database configuration
	DatabaseURL string
	SQLitePath  string

	// Redis configuration
	RedisURL string

	// Purchase session configuration
	Platform           string
	AlternativeBilling bool
	FlushOnStart       bool
	ConsumableProducts []string

	// Receipt validation backend
	ValidationURL     string
	ValidationSecret  string
	ValidationTimeout time.Duration

	// Sandbox native backend
	SandboxAutoApprove bool
	ProductCacheTTL    time.Duration
	ClaimTTL           time.Duration
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file, a missing file is fine
	_ = godotenv.Load()

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// Load reads the configuration from the environment without validating it.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Mode:               getEnv("GIN_MODE", "debug"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		APIKey:             getEnv("API_KEY", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "iap-reconciler.db"),
		RedisURL:           getEnv("REDIS_URL", ""),
		Platform:           strings.ToLower(getEnv("PLATFORM", PlatformAndroid)),
		AlternativeBilling: getEnvBool("ALTERNATIVE_BILLING", false),
		FlushOnStart:       getEnvBool("FLUSH_ON_START", true),
		ConsumableProducts: getEnvList("CONSUMABLE_PRODUCTS"),
		ValidationURL:      getEnv("VALIDATION_URL", ""),
		ValidationSecret:   getEnv("VALIDATION_SECRET", ""),
		ValidationTimeout:  getEnvDuration("VALIDATION_TIMEOUT", 10*time.Second),
		SandboxAutoApprove: getEnvBool("SANDBOX_AUTO_APPROVE", true),
		ProductCacheTTL:    getEnvDuration("PRODUCT_CACHE_TTL", 10*time.Minute),
		ClaimTTL:           getEnvDuration("CLAIM_TTL", 5*time.Minute),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformIOS, PlatformAndroid:
	default:
		return fmt.Errorf("unsupported PLATFORM %q (want %s or %s)", c.Platform, PlatformIOS, PlatformAndroid)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is empty")
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("CLAIM_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds := getEnvInt(key, -1); seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
