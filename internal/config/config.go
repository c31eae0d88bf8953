// Package config provides environment configuration for the inbox server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Upstream services
	ConversationServiceURL string
	AgentAPIURL            string
	// APIKey is the agent platform credential. Requests that need it fail
	// individually when it is absent; the process still starts.
	APIKey          string
	UpstreamTimeout time.Duration

	// Polling
	ConversationsInterval time.Duration
	ConversationsStale    time.Duration
	MessagesInterval      time.Duration
	MessagesStale         time.Duration
	MessageLimit          int
	MetaInterval          time.Duration
	MetaStale             time.Duration
	VariablesStale        time.Duration
	FeedInterval          time.Duration
	FeedStale             time.Duration
	FeedMessageLimit      int
	FeedParallelism       int
	AgentCacheTTL         time.Duration

	// View
	PageSize int

	// Tag persistence
	TagStore      string
	TagSQLitePath string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// CORS
	AllowedOrigins []string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// Upstream
		ConversationServiceURL: getEnv("CONVERSATION_SERVICE_URL", "http://localhost:3001"),
		AgentAPIURL:            getEnv("AGENT_API_URL", "https://api.chatvolt.ai"),
		APIKey:                 getEnv("API_KEY", ""),
		UpstreamTimeout:        getDurationEnv("UPSTREAM_TIMEOUT", 30*time.Second),

		// Polling
		ConversationsInterval: getDurationEnv("POLL_CONVERSATIONS_INTERVAL", 20*time.Second),
		ConversationsStale:    getDurationEnv("POLL_CONVERSATIONS_STALE", 30*time.Second),
		MessagesInterval:      getDurationEnv("POLL_MESSAGES_INTERVAL", 5*time.Second),
		MessagesStale:         getDurationEnv("POLL_MESSAGES_STALE", 10*time.Second),
		MessageLimit:          getIntEnv("MESSAGE_LIMIT", 50),
		MetaInterval:          getDurationEnv("POLL_META_INTERVAL", 15*time.Second),
		MetaStale:             getDurationEnv("POLL_META_STALE", 10*time.Second),
		VariablesStale:        getDurationEnv("POLL_VARIABLES_STALE", 2*time.Minute),
		FeedInterval:          getDurationEnv("POLL_FEED_INTERVAL", 60*time.Second),
		FeedStale:             getDurationEnv("POLL_FEED_STALE", 30*time.Second),
		FeedMessageLimit:      getIntEnv("FEED_MESSAGE_LIMIT", 50),
		FeedParallelism:       getIntEnv("FEED_PARALLELISM", 8),
		AgentCacheTTL:         getDurationEnv("AGENT_CACHE_TTL", 5*time.Minute),

		// View
		PageSize: getIntEnv("PAGE_SIZE", 20),

		// Tags
		TagStore:      strings.ToLower(getEnv("TAG_STORE", "sqlite")),
		TagSQLitePath: getEnv("TAG_SQLITE_PATH", "inbox-tags.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// CORS
		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ConversationServiceURL == "":
		return fmt.Errorf("CONVERSATION_SERVICE_URL is required")
	case c.MessageLimit <= 0:
		return fmt.Errorf("MESSAGE_LIMIT must be positive")
	case c.PageSize <= 0:
		return fmt.Errorf("PAGE_SIZE must be positive")
	case c.FeedParallelism <= 0:
		return fmt.Errorf("FEED_PARALLELISM must be positive")
	}

	switch c.TagStore {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("TAG_STORE must be one of sqlite, redis, memory, got %q", c.TagStore)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
