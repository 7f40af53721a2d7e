package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Ops server
	OpsPort  int
	LogLevel string

	// Telegram
	TelegramToken string
	Lanes         int

	// OpenAI
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Supabase
	SupabaseURL         string
	SupabaseServiceRole string
	OrderImagesBucket   string
	PaymentProofsBucket string

	// Geocoding
	OpenCageAPIKey  string
	GeocodeTimeout  time.Duration
	GeocodeRPS      float64
	HomeCountryCode string
	HomeRegion      string

	// Location tiers
	RedirectProbeTimeout time.Duration
	BrowserEnabled       bool
	BrowserTimeout       time.Duration
	ChromePath           string

	// Sessions
	SessionIdleTTL   time.Duration
	SessionSweepTick time.Duration
	Timezone         string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration
	RedisURL string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		OpsPort:  getEnvInt("OPS_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		Lanes:         getEnvInt("TELEGRAM_LANES", 16),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		SupabaseURL:         strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceRole: getEnv("SUPABASE_SERVICE_ROLE", ""),
		OrderImagesBucket:   getEnv("ORDER_IMAGES_BUCKET", "order-images"),
		PaymentProofsBucket: getEnv("PAYMENT_PROOFS_BUCKET", "delivery-proofs"),

		OpenCageAPIKey:  getEnv("OPENCAGE_API_KEY", ""),
		GeocodeTimeout:  getEnvDuration("GEOCODE_TIMEOUT", 8*time.Second),
		GeocodeRPS:      getEnvFloat("GEOCODE_RPS", 1),
		HomeCountryCode: getEnv("HOME_COUNTRY_CODE", "bo"),
		HomeRegion:      getEnv("HOME_REGION", "Santa Cruz, Bolivia"),

		RedirectProbeTimeout: getEnvDuration("REDIRECT_PROBE_TIMEOUT", 4*time.Second),
		BrowserEnabled:       getEnvBool("BROWSER_ENABLED", true),
		BrowserTimeout:       getEnvDuration("BROWSER_TIMEOUT", 25*time.Second),
		ChromePath:           getEnv("CHROME_PATH", ""),

		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		SessionSweepTick: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		Timezone:         getEnv("TIMEZONE", "America/La_Paz"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 10*time.Minute),
		RedisURL: getEnv("REDIS_URL", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate reports every required key that is missing.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"TELEGRAM_BOT_TOKEN", c.TelegramToken},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"SUPABASE_URL", c.SupabaseURL},
		{"SUPABASE_SERVICE_ROLE", c.SupabaseServiceRole},
		{"OPENCAGE_API_KEY", c.OpenCageAPIKey},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return &domain.ErrMissingConfig{Keys: missing}
	}
	return nil
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
