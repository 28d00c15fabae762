package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Feed
	Profiles []string

	// Upstream
	UpstreamEndpoint string
	UpstreamRate     float64
	FetchTimeout     time.Duration
	MetadataTimeout  time.Duration

	// Cache build
	CacheFilePath    string
	ProgressFilePath string
	CacheTarget      int
	CachePageSize    int
	CacheConcurrency int
	CacheMode        string
	WriteProgress    bool
	RefreshInterval  time.Duration

	// Live merge
	LiveTimeout  time.Duration
	LiveTTL      time.Duration
	LiveMaxItems int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// キャッシュビルドのモード。
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 数値系の設定は許容レンジにクランプされる。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.Profiles = splitProfiles(os.Getenv("FEED_PROFILES"))
	if len(cfg.Profiles) == 0 {
		missing = append(missing, "FEED_PROFILES")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.UpstreamEndpoint = getEnvString("UPSTREAM_ENDPOINT", "https://api-sdk.zora.engineering")
	cfg.UpstreamRate = getEnvFloat("UPSTREAM_RATE", 5.0)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 9*time.Second)
	cfg.MetadataTimeout = getEnvDuration("METADATA_TIMEOUT", 2500*time.Millisecond)

	cfg.CacheFilePath = getEnvString("CACHE_FILE", "data/home-feed-cache.json")
	cfg.ProgressFilePath = getEnvString("PROGRESS_FILE", "data/home-feed-cache.progress.json")
	cfg.CacheTarget = getEnvInt("CACHE_TARGET", 3333)
	if cfg.CacheTarget < 1 {
		cfg.CacheTarget = 3333
	}
	cfg.CachePageSize = clampInt(getEnvInt("CACHE_PAGE_SIZE", 50), 1, 50)
	cfg.CacheConcurrency = clampInt(getEnvInt("CACHE_CONCURRENCY", 3), 1, 6)
	cfg.CacheMode = parseMode(os.Getenv("CACHE_MODE"))
	cfg.WriteProgress = os.Getenv("PROGRESS_JSON") == "1"
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 30*time.Minute)

	cfg.LiveTimeout = getEnvDuration("LIVE_TIMEOUT", 1500*time.Millisecond)
	cfg.LiveTTL = getEnvDuration("LIVE_TTL", 60*time.Second)
	cfg.LiveMaxItems = getEnvInt("LIVE_MAX_ITEMS", 240)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// splitProfiles はカンマ区切りのプロフィール識別子リストをパースする。
// 空要素と前後の空白は除去し、順序は入力順を保つ。
func splitProfiles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	profiles := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			profiles = append(profiles, trimmed)
		}
	}
	return profiles
}

// parseMode はキャッシュビルドモードをパースする。
// incremental以外の値はすべてfullとして扱う。
func parseMode(raw string) string {
	if strings.ToLower(strings.TrimSpace(raw)) == ModeIncremental {
		return ModeIncremental
	}
	return ModeFull
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
