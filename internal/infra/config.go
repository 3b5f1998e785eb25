package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// PrivilegedKeyHashes lists owner key hashes exempt from the per-caller
	// concurrency limit.
	PrivilegedKeyHashes []string

	AllowedOrigins []string

	StoragePath    string
	StorageBaseURL string

	WeatherAPIKey  string
	WeatherBaseURL string

	ImageProvider string
	VideoProvider string
	GenAPIKey     string
	GenBaseURL    string

	FFmpegPath string

	// RedisURL is optional; when set the admission trigger guard is shared
	// across instances instead of in-process.
	RedisURL string

	GeoIPDBPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	JanitorInterval    time.Duration
	StuckJobThreshold  time.Duration
	WorkerPollInterval time.Duration

	// InlinePipeline makes the API run admitted jobs in-process instead of
	// leaving them pending for a worker to claim. Single-binary deployments
	// keep this on; multi-node ones turn it off and run cmd/worker.
	InlinePipeline bool
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		PrivilegedKeyHashes: splitEnv("PRIVILEGED_KEY_HASHES"),
		AllowedOrigins:      splitEnv("ALLOWED_ORIGINS"),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:      getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		WeatherAPIKey:       os.Getenv("WEATHER_API_KEY"),
		WeatherBaseURL:      getEnv("WEATHER_BASE_URL", "https://api.weatherapi.com/v1"),
		ImageProvider:       getEnv("IMAGE_PROVIDER", "gemini"),
		VideoProvider:       getEnv("VIDEO_PROVIDER", "gemini"),
		GenAPIKey:           os.Getenv("GEN_API_KEY"),
		GenBaseURL:          getEnv("GEN_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		RedisURL:            os.Getenv("REDIS_URL"),
		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		JanitorInterval:     time.Minute * time.Duration(getEnvInt("JANITOR_INTERVAL_MINUTES", 10)),
		StuckJobThreshold:   time.Minute * time.Duration(getEnvInt("STUCK_JOB_THRESHOLD_MINUTES", 30)),
		WorkerPollInterval:  time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
		InlinePipeline:      getEnv("INLINE_PIPELINE", "true") == "true",
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Privileged reports whether the owner key hash bypasses the per-caller limit.
func (c *Config) Privileged(ownerKeyHash string) bool {
	for _, h := range c.PrivilegedKeyHashes {
		if h == ownerKeyHash {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
