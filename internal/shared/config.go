package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ProviderConfig is one upstream inventory provider endpoint. Providers are
// declared in PROVIDERS as a comma-separated list of ids; each id gets its
// own <ID>_BASE_URL / <ID>_API_KEY pair.
type ProviderConfig struct {
	ID   string
	Base string
	Key  string
}

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string

	RedisAddr string
	RedisDB   int
	RedisPass string

	OpenAIKey   string
	OpenAIBase  string
	OpenAIModel string
	OpenAIRPS   int

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	VectorSize       int

	Providers   []ProviderConfig
	ProviderRPS int

	Workers    int
	CacheTTL   time.Duration
	IngestFile string
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/staymatch?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),

		RedisAddr: env("REDIS_ADDR", "localhost:6379"),
		RedisDB:   atoi("REDIS_DB", 0),
		RedisPass: env("REDIS_PASSWORD", ""),

		OpenAIKey:   env("OPENAI_API_KEY", ""),
		OpenAIBase:  env("OPENAI_BASE_URL", ""),
		OpenAIModel: env("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		OpenAIRPS:   atoi("OPENAI_RPS", 5),

		QdrantHost:       env("QDRANT_HOST", "localhost"),
		QdrantPort:       atoi("QDRANT_PORT", 6334),
		QdrantCollection: env("QDRANT_COLLECTION", "canonical_hotels"),
		VectorSize:       atoi("EMBED_VECTOR_SIZE", 1536),

		ProviderRPS: atoi("PROVIDER_RPS", 5),

		Workers:    atoi("WORKERS", 8),
		CacheTTL:   time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		IngestFile: env("INGEST_FILE", "hotels.ndjson"),
	}
	for _, id := range splitCSV(env("PROVIDERS", "")) {
		upper := strings.ToUpper(id)
		c.Providers = append(c.Providers, ProviderConfig{
			ID:   id,
			Base: env(upper+"_BASE_URL", ""),
			Key:  env(upper+"_API_KEY", ""),
		})
	}
	if c.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
