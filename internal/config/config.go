package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Ledger store (remote document store)
	LedgerURL        string
	LedgerAPIKey     string
	LedgerServiceKey string

	// Message channel
	NSQLookupdAddr string // empty disables the NSQ channel (webhook only)
	NSQTopic       string
	NSQChannel     string

	// Trusted SMS senders (case-insensitive exact or substring match)
	TrustedSenders []string

	// Local queue
	QueuePath string

	// Connectivity watcher
	ProbeInterval time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Plot cache
	PlotCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Device auth for the admin API
	JWTSecret     string
	JWTAccessTTL  time.Duration
	DeviceID      string
	DeviceKeyHash string // bcrypt hash of the device key
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LedgerURL:        getEnv("LEDGER_URL", ""),
		LedgerAPIKey:     getEnv("LEDGER_API_KEY", ""),
		LedgerServiceKey: getEnv("LEDGER_SERVICE_KEY", ""),

		NSQLookupdAddr: getEnv("NSQ_LOOKUPD_ADDR", ""),
		NSQTopic:       getEnv("NSQ_TOPIC", "sms.inbound"),
		NSQChannel:     getEnv("NSQ_CHANNEL", "gateway"),

		TrustedSenders: getEnvList("TRUSTED_SENDERS", []string{"MPESA"}),

		QueuePath: getEnv("QUEUE_PATH", "gateway-queue.db"),

		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 30*time.Second),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),

		PlotCacheTTL: getEnvDuration("PLOT_CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:     getEnv("JWT_SECRET", "gateway-default-dev-secret-change-me"),
		JWTAccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		DeviceID:      getEnv("DEVICE_ID", ""),
		DeviceKeyHash: getEnv("DEVICE_KEY_HASH", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
