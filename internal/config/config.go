package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/UkralStul/fine-comments-service/internal/retry"
)

// Config - настройки сервиса из окружения (и .env, если он есть).
type Config struct {
	Port        string
	Storage     string // in-memory | postgres
	DatabaseURL string
	RedisURL    string // пусто - лента изменений в памяти процесса
	LogLevel    string
	LogDev      bool
	DBDebug     bool

	// ErrorGrace - сколько отклонённая оптимистичная мутация висит в дереве.
	ErrorGrace time.Duration

	AuthorCacheSize int
	AuthorCacheTTL  time.Duration

	Retry retry.Config

	ShutdownTimeout time.Duration
}

// Load читает .env (молча пропуская его отсутствие) и окружение.
func Load() Config {
	_ = godotenv.Load()

	def := retry.DefaultConfig()
	return Config{
		Port:            getenv("PORT", "8080"),
		Storage:         getenv("STORAGE", "in-memory"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		RedisURL:        getenv("REDIS_URL", ""),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogDev:          getenvBool("LOG_DEV", false),
		DBDebug:         getenvBool("DB_DEBUG", false),
		ErrorGrace:      getenvDuration("COMMENT_ERROR_GRACE", 5*time.Second),
		AuthorCacheSize: getenvInt("AUTHOR_CACHE_SIZE", 500),
		AuthorCacheTTL:  getenvDuration("AUTHOR_CACHE_TTL", 5*time.Minute),
		Retry: retry.Config{
			MaxAttempts: getenvInt("RETRY_MAX_ATTEMPTS", def.MaxAttempts),
			BaseDelay:   getenvDuration("RETRY_BASE_DELAY", def.BaseDelay),
			Multiplier:  getenvFloat("RETRY_MULTIPLIER", def.Multiplier),
			MaxDelay:    getenvDuration("RETRY_MAX_DELAY", def.MaxDelay),
		},
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}
