package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

type Config struct {
	APIPort           string
	LogLevel          string
	WorkerMetricsPort string

	NotionAPIKey       string
	NotionDBMedical    string
	NotionDBEducation  string
	NotionDBFamily     string
	NotionDBCare       string
	NotionDBLiving     string
	NotionFeedbackDBID string
	NotionLogDBID      string

	SupabaseURL   string
	SupabaseKey   string
	SupabaseTable string

	RedisURL string

	NATSURL       string
	NATSSubject   string
	ForceSyncMode bool

	GeminiAPIKeys    []string
	GeminiGenModel   string
	GeminiEmbedModel string
	GroqAPIKey       string
	GroqFastModel    string
	GroqBackupModel  string

	AdminSecret string

	RateLimitMaxRequests int
	RateLimitWindow      time.Duration

	ScopedMatchThreshold   float64
	ScopedMatchCount       int
	GlobalMatchThreshold   float64
	GlobalMatchCount       int
	MinScopedResults       int
	RerankTopN             int
	ResultsPerPage         int
	SemanticCacheThreshold float64

	AnswerCacheTTL  time.Duration
	ResultTTL       time.Duration
	ExtractCacheTTL time.Duration

	SyncPageDelay         time.Duration
	SyncStatePath         string
	FallbackMaxConcurrent int
}

func Load() Config {
	return Config{
		APIPort:           mustEnv("API_PORT", "8080"),
		LogLevel:          mustEnv("LOG_LEVEL", "info"),
		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),

		NotionAPIKey:       mustEnv("NOTION_API_KEY", os.Getenv("NOTION_KEY")),
		NotionDBMedical:    mustEnv("NOTION_DB_MEDICAL", ""),
		NotionDBEducation:  mustEnv("NOTION_DB_EDUCATION", ""),
		NotionDBFamily:     mustEnv("NOTION_DB_FAMILY", ""),
		NotionDBCare:       mustEnv("NOTION_DB_CARE", ""),
		NotionDBLiving:     mustEnv("NOTION_DB_LIFE", ""),
		NotionFeedbackDBID: mustEnv("NOTION_FEEDBACK_DB_ID", ""),
		NotionLogDBID:      mustEnv("NOTION_LOG_DB_ID", ""),

		SupabaseURL:   strings.TrimSpace(mustEnv("SUPABASE_URL", "")),
		SupabaseKey:   strings.TrimSpace(mustEnv("SUPABASE_KEY", "")),
		SupabaseTable: mustEnv("SUPABASE_TABLE", "site_pages"),

		RedisURL: strings.TrimSpace(mustEnv("REDIS_URL", "")),

		NATSURL:       mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:   mustEnv("NATS_SUBJECT", "chatbot.jobs"),
		ForceSyncMode: mustEnvBool("FORCE_SYNC_MODE", false),

		GeminiAPIKeys:    splitKeys(mustEnv("GEMINI_API_KEYS", "")),
		GeminiGenModel:   mustEnv("GEMINI_GEN_MODEL", "gemini-2.5-flash"),
		GeminiEmbedModel: mustEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		GroqAPIKey:       mustEnv("GROQ_API_KEY", ""),
		GroqFastModel:    mustEnv("GROQ_FAST_MODEL", "llama-3.1-8b-instant"),
		GroqBackupModel:  mustEnv("GROQ_BACKUP_MODEL", "llama-3.3-70b-versatile"),

		AdminSecret: mustEnv("ADMIN_SECRET_KEY", ""),

		RateLimitMaxRequests: mustEnvInt("RATE_LIMIT_MAX_REQUESTS", 10),
		RateLimitWindow:      mustEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		ScopedMatchThreshold:   mustEnvFloat("SEARCH_SCOPED_THRESHOLD", 0.45),
		ScopedMatchCount:       mustEnvInt("SEARCH_SCOPED_COUNT", 15),
		GlobalMatchThreshold:   mustEnvFloat("SEARCH_GLOBAL_THRESHOLD", 0.40),
		GlobalMatchCount:       mustEnvInt("SEARCH_GLOBAL_COUNT", 20),
		MinScopedResults:       mustEnvInt("SEARCH_MIN_SCOPED_RESULTS", 3),
		RerankTopN:             mustEnvInt("RERANK_TOP_N", 15),
		ResultsPerPage:         mustEnvInt("RESULTS_PER_PAGE", 2),
		SemanticCacheThreshold: mustEnvFloat("SEMANTIC_CACHE_THRESHOLD", 0.92),

		AnswerCacheTTL:  mustEnvDuration("ANSWER_CACHE_TTL", time.Hour),
		ResultTTL:       mustEnvDuration("JOB_RESULT_TTL", time.Hour),
		ExtractCacheTTL: mustEnvDuration("EXTRACT_CACHE_TTL", time.Hour),

		SyncPageDelay:         mustEnvDuration("SYNC_PAGE_DELAY", 300*time.Millisecond),
		SyncStatePath:         mustEnv("SYNC_STATE_PATH", "data/sync_state.json"),
		FallbackMaxConcurrent: mustEnvInt("FALLBACK_MAX_CONCURRENT", 4),
	}
}

// CollectionRef binds a category to its source collection id.
type CollectionRef struct {
	Category     domain.Category
	CollectionID string
}

// Collections returns the category collections in fixed sync iteration
// order. Entries without a configured collection id are dropped.
func (c Config) Collections() []CollectionRef {
	all := []CollectionRef{
		{domain.CategoryMedical, c.NotionDBMedical},
		{domain.CategoryEducation, c.NotionDBEducation},
		{domain.CategoryFamily, c.NotionDBFamily},
		{domain.CategoryCare, c.NotionDBCare},
		{domain.CategoryLiving, c.NotionDBLiving},
	}
	out := make([]CollectionRef, 0, len(all))
	for _, ref := range all {
		if ref.CollectionID != "" {
			out = append(out, ref)
		}
	}
	return out
}

// ValidateIndexer fails fast on credentials the sync entry point cannot run
// without. The serving path degrades feature-by-feature instead.
func (c Config) ValidateIndexer() error {
	if c.NotionAPIKey == "" {
		return errors.New("NOTION_API_KEY is required for indexing")
	}
	if c.SupabaseURL == "" || c.SupabaseKey == "" {
		return errors.New("SUPABASE_URL and SUPABASE_KEY are required for indexing")
	}
	if len(c.GeminiAPIKeys) == 0 {
		return errors.New("GEMINI_API_KEYS is required for indexing")
	}
	if len(c.Collections()) == 0 {
		return errors.New("at least one NOTION_DB_* collection id is required")
	}
	return nil
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
