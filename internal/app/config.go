package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	RequestTimeout   time.Duration
	LogLevel         string
	LogFormat        string
	UserAgent        string
	OMDbAPIKey       string
	OMDbBaseURL      string
	RedisURL         string
	CacheTTL         time.Duration
	CacheDisabled    bool
	DebounceInterval time.Duration
	SessionTTL       time.Duration
	TrendingLimitMax int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:        getEnv("SEARCH_USER_AGENT", "movie-stream-search/1.0"),
		OMDbAPIKey:       strings.TrimSpace(os.Getenv("OMDB_API_KEY")),
		OMDbBaseURL:      getEnv("OMDB_BASE_URL", "https://www.omdbapi.com/"),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         time.Duration(getEnvInt("SEARCH_CACHE_TTL_MINUTES", 30)) * time.Minute,
		CacheDisabled:    getEnvBool("SEARCH_CACHE_DISABLED", false),
		DebounceInterval: time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 500)) * time.Millisecond,
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		TrendingLimitMax: getEnvInt("TRENDING_LIMIT_MAX", 50),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
