package config

import (
	"os"
	"strconv"
	"time"
)

// HandoffConfig holds the runtime configuration for the voice handoff service.
type HandoffConfig struct {
	Port string

	// Webhook signature verification
	WebhookSigningSecret string
	SignatureHeader      string
	TimestampTolerance   time.Duration

	// Clone orchestration budgets
	CloneMaxWait  time.Duration
	CloneCacheTTL time.Duration
	SweepInterval time.Duration

	// Greeting and fallback
	GreetingAudioRef    string
	GreetingMessage     string
	FallbackVoiceHandle string

	// Voice provider API
	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderTimeout    time.Duration
	ProviderMaxRetries int

	// Ingress rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Operational debug surface
	SecretKey string

	// Instance identifier for multi-pod monitoring
	InstanceID string
}

// LoadFromEnv loads the handoff configuration from environment variables.
func LoadFromEnv() *HandoffConfig {
	return &HandoffConfig{
		Port: GetEnvOrDefault("HANDOFF_PORT", "8085"),

		WebhookSigningSecret: GetEnvOrDefault("WEBHOOK_SIGNING_SECRET", ""),
		SignatureHeader:      GetEnvOrDefault("WEBHOOK_SIGNATURE_HEADER", "X-Handoff-Signature"),
		TimestampTolerance:   time.Duration(GetEnvIntOrDefault("WEBHOOK_TS_TOLERANCE_SECONDS", 1800)) * time.Second,

		CloneMaxWait:  time.Duration(GetEnvIntOrDefault("CLONE_MAX_WAIT_SECONDS", 35)) * time.Second,
		CloneCacheTTL: time.Duration(GetEnvIntOrDefault("CLONE_CACHE_TTL_HOURS", 24)) * time.Hour,
		SweepInterval: time.Duration(GetEnvIntOrDefault("SWEEP_INTERVAL_MINUTES", 10)) * time.Minute,

		GreetingAudioRef:    GetEnvOrDefault("GREETING_AUDIO_REF", ""),
		GreetingMessage:     GetEnvOrDefault("GREETING_MESSAGE", "Please hold while we connect you."),
		FallbackVoiceHandle: GetEnvOrDefault("FALLBACK_VOICE_HANDLE", "v_default"),

		ProviderBaseURL:    GetEnvOrDefault("PROVIDER_BASE_URL", "https://api.bland.ai"),
		ProviderAPIKey:     GetEnvOrDefault("PROVIDER_API_KEY", ""),
		ProviderTimeout:    time.Duration(GetEnvIntOrDefault("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		ProviderMaxRetries: GetEnvIntOrDefault("PROVIDER_MAX_RETRIES", 3),

		RateLimitRPS:   GetEnvFloatOrDefault("WEBHOOK_RATE_LIMIT_RPS", 25),
		RateLimitBurst: GetEnvIntOrDefault("WEBHOOK_RATE_LIMIT_BURST", 50),

		SecretKey: GetEnvOrDefault("SECRET_KEY", ""),

		InstanceID: os.Getenv("INSTANCE_ID"),
	}
}

// GetEnvOrDefault gets an environment variable or returns the default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntOrDefault gets an environment variable as int or returns the default.
func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvFloatOrDefault gets an environment variable as float64 or returns the default.
func GetEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvBoolOrDefault gets an environment variable as bool or returns the default.
func GetEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
