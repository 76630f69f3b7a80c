// Package config loads this service's start-up configuration from the
// environment, failing fast on anything missing per spec.md §6's exit-code
// contract. An optional .env file is layered in first via joho/godotenv,
// matching paulround2tele-studio/backend's local-development convenience —
// never required, and silently skipped when absent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ryanelian/mitsu/internal/ratecache"
)

// Config is the service's immutable start-up configuration (spec.md §3).
type Config struct {
	RedisURL     string
	RateAPIURL   string
	RateAPIToken string
	RateAPIQuota int64

	CacheTTL        time.Duration
	RefreshInterval time.Duration
	LockTTL         time.Duration
	UpstreamTimeout time.Duration

	HTTPAddr  string
	LogFormat string // "console" or "json"
}

// Load reads Config from the environment. It returns an error describing
// exactly which required variable is missing or blank, never a generic
// failure, so a misconfigured deployment fails loudly.
func Load() (Config, error) {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	redisURL, err := requireEnv("REDIS_URL")
	if err != nil {
		return Config{}, err
	}
	rateAPIURL, err := requireEnv("RATE_API_URL")
	if err != nil {
		return Config{}, err
	}
	rateAPIToken, err := requireEnv("RATE_API_TOKEN")
	if err != nil {
		return Config{}, err
	}
	quotaStr, err := requireEnv("RATE_API_QUOTA")
	if err != nil {
		return Config{}, err
	}
	quota, err := strconv.ParseInt(quotaStr, 10, 64)
	if err != nil || quota <= 0 {
		return Config{}, fmt.Errorf("config: RATE_API_QUOTA must be a positive integer, got %q", quotaStr)
	}

	defaults := ratecache.DefaultConfig()
	cfg := Config{
		RedisURL:        redisURL,
		RateAPIURL:      rateAPIURL,
		RateAPIToken:    rateAPIToken,
		RateAPIQuota:    quota,
		CacheTTL:        durationMillisEnv("MITSU_CACHE_TTL_MS", defaults.CacheTTL),
		RefreshInterval: durationMillisEnv("MITSU_REFRESH_INTERVAL_MS", defaults.RefreshInterval),
		LockTTL:         durationMillisEnv("MITSU_LOCK_TTL_MS", defaults.LockTTL),
		UpstreamTimeout: durationMillisEnv("MITSU_UPSTREAM_TIMEOUT_MS", 30*time.Second),
		HTTPAddr:        stringEnv("MITSU_HTTP_ADDR", ":8080"),
		LogFormat:       stringEnv("MITSU_LOG_FORMAT", "json"),
	}
	return cfg, nil
}

func requireEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("config: required environment variable %s is missing or blank", name)
	}
	return v, nil
}

func stringEnv(name string, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func durationMillisEnv(name string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
