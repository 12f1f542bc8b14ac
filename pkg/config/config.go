package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string

	DatabaseDriver string
	DatabaseURL    string

	SourcesFile string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string

	FirebaseCredentials string
	FCMTopicPrefix      string

	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	RabbitMQURL      string
	RabbitMQExchange string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	AIProvider      string
	GeminiApiKey    string
	OllamaBaseURL   string
	OllamaModel     string
	Teams           []string
	DefaultTeam     string
	ClassifyTimeout time.Duration

	MailPollInterval    time.Duration
	CallSyncInterval    time.Duration
	CallSyncOverlap     time.Duration
	CallSyncLookback    time.Duration
	CallSyncPageSize    int
	MailBatchSize       int
	WatchRenewInterval  time.Duration
	WatchRenewLookahead time.Duration
	ProviderTimeout     time.Duration
	PollConcurrency     int
	PollLockTTL         time.Duration

	IngestWorkers       int
	IngestMaxAttempts   int
	IngestRetryBase     time.Duration
	IngestSweepInterval time.Duration
	DedupCacheTTL       time.Duration

	ArchivedInboundPolicy     string
	CallCallbackPhoneFallback bool
	CallCallbackWindow        time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=commhub port=5432 sslmode=disable"),

		SourcesFile: getEnv("SOURCES_FILE", "sources.yaml"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GoogleCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
		FCMTopicPrefix:      getEnv("FCM_TOPIC_PREFIX", "commhub"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "commhub-events"),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "commhub.events"),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3PathStyle: getBool("S3_PATH_STYLE", false),

		AIProvider:      getEnv("AI_PROVIDER", "auto"),
		GeminiApiKey:    getEnv("GEMINI_API_KEY", ""),
		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3"),
		Teams:           getList("TEAMS", []string{"support", "sales", "billing"}),
		DefaultTeam:     getEnv("DEFAULT_TEAM", "support"),
		ClassifyTimeout: getDuration("CLASSIFY_TIMEOUT", 30*time.Second),

		MailPollInterval:    getDuration("MAIL_POLL_INTERVAL", time.Minute),
		CallSyncInterval:    getDuration("CALL_SYNC_INTERVAL", 15*time.Minute),
		CallSyncOverlap:     getDuration("CALL_SYNC_OVERLAP", 10*time.Minute),
		CallSyncLookback:    getDuration("CALL_SYNC_LOOKBACK", 24*time.Hour),
		CallSyncPageSize:    getInt("CALL_SYNC_PAGE_SIZE", 100),
		MailBatchSize:       getInt("MAIL_BATCH_SIZE", 100),
		WatchRenewInterval:  getDuration("WATCH_RENEW_INTERVAL", time.Hour),
		WatchRenewLookahead: getDuration("WATCH_RENEW_LOOKAHEAD", 24*time.Hour),
		ProviderTimeout:     getDuration("PROVIDER_TIMEOUT", 20*time.Second),
		PollConcurrency:     getInt("POLL_CONCURRENCY", 4),
		PollLockTTL:         getDuration("POLL_LOCK_TTL", 5*time.Minute),

		IngestWorkers:       getInt("INGEST_WORKERS", 5),
		IngestMaxAttempts:   getInt("INGEST_MAX_ATTEMPTS", 6),
		IngestRetryBase:     getDuration("INGEST_RETRY_BASE", 5*time.Second),
		IngestSweepInterval: getDuration("INGEST_SWEEP_INTERVAL", 5*time.Second),
		DedupCacheTTL:       getDuration("DEDUP_CACHE_TTL", 10*time.Minute),

		ArchivedInboundPolicy:     getEnv("ARCHIVED_INBOUND_POLICY", "keep"),
		CallCallbackPhoneFallback: getBool("CALL_CALLBACK_PHONE_FALLBACK", false),
		CallCallbackWindow:        getDuration("CALL_CALLBACK_WINDOW", 2*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
