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

	// Language model (OpenAI-compatible endpoint)
	OpenAIAPIKey  string
	OpenAIBaseURL string // override for self-hosted gateways / tests
	OpenAIModel   string

	// Retriever
	RetrieverMatchCount int

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Retrieval-context cache
	CacheTTL time.Duration

	// Rate limiting (requests per minute per IP on the turn route)
	RateLimitPerMinute int

	// Observability
	OTLPEndpoint string

	// Supabase (conversation store + vector search RPC)
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	UseSupabase        bool

	// JWT / operator auth
	JWTSecret string

	// Onboarding
	// RefusalPhrases é política de conteúdo, não lógica universal:
	// a lista default é pt-BR (idioma primário do deployment) e pode
	// ser trocada por env sem recompilar.
	RefusalPhrases []string
}

// defaultRefusalPhrases são os padrões de recusa reconhecidos no
// onboarding quando REFUSAL_PHRASES não é configurado.
var defaultRefusalPhrases = []string{
	"pular",
	"não quero",
	"nao quero",
	"não vou",
	"nao vou",
	"não preciso",
	"nao preciso",
	"não tenho interesse",
	"nao tenho interesse",
	"pode ignorar",
	"prefiro não",
	"prefiro nao",
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		RetrieverMatchCount: getEnvInt("RETRIEVER_MATCH_COUNT", 5),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		UseSupabase:        getEnv("USE_SUPABASE", "false") == "true",

		JWTSecret: getEnv("JWT_SECRET", "verai-default-dev-secret-change-me"),

		RefusalPhrases: getEnvList("REFUSAL_PHRASES", defaultRefusalPhrases),
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
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
