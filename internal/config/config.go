package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backends understood by CACHE_BACKEND.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string
	JWTSecret        string
	ReadTimeoutSecs  int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int
	RateLimitPerMin  int
	CORSOrigins      []string

	LogLevel  string
	LogFormat string

	DBURL             string
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
	DBAutoMigrate     bool

	CacheBackend string
	RedisURL     string
	CacheMaxCost int64

	TMDB  TMDBConfig
	Asset AssetConfig
}

// TMDBConfig configures the metadata importer.
type TMDBConfig struct {
	APIKey         string
	BaseURL        string
	ImageBaseURL   string
	RatePerSec     float64
	TimeoutSecs    int
	ImportInterval time.Duration
	ImportPages    int
}

// AssetConfig holds the image host credential triplet and endpoint.
type AssetConfig struct {
	CloudName   string
	APIKey      string
	APISecret   string
	BaseURL     string
	Folder      string
	TimeoutSecs int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ReadTimeoutSecs:  getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs: getEnvInt("SERVER_WRITE_TIMEOUT", 30),
		IdleTimeoutSecs:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MIN", 300),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DBURL:             os.Getenv("DB_URL"),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		DBAutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),

		CacheBackend: strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendMemory)),
		RedisURL:     os.Getenv("REDIS_URL"),
		CacheMaxCost: int64(getEnvInt("CACHE_MAX_COST", 64<<20)),

		TMDB: TMDBConfig{
			APIKey:         os.Getenv("TMDB_API_KEY"),
			BaseURL:        getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
			ImageBaseURL:   getEnv("TMDB_IMAGE_BASE_URL", "https://image.tmdb.org/t/p/original"),
			RatePerSec:     getEnvFloat("TMDB_RATE_PER_SEC", 4),
			TimeoutSecs:    getEnvInt("TMDB_TIMEOUT_SECS", 10),
			ImportInterval: getEnvDuration("TMDB_IMPORT_INTERVAL", 0),
			ImportPages:    getEnvInt("TMDB_IMPORT_PAGES", 1),
		},
		Asset: AssetConfig{
			CloudName:   os.Getenv("ASSET_CLOUD_NAME"),
			APIKey:      os.Getenv("ASSET_API_KEY"),
			APISecret:   os.Getenv("ASSET_API_SECRET"),
			BaseURL:     getEnv("ASSET_BASE_URL", "https://api.cloudinary.com/v1_1"),
			Folder:      getEnv("ASSET_FOLDER", "ProfileImage"),
			TimeoutSecs: getEnvInt("ASSET_TIMEOUT_SECS", 30),
		},
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	switch cfg.CacheBackend {
	case CacheBackendMemory:
		if cfg.CacheMaxCost <= 0 {
			return Config{}, fmt.Errorf("CACHE_MAX_COST must be positive")
		}
	case CacheBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return Config{}, fmt.Errorf("CACHE_BACKEND must be %q or %q", CacheBackendMemory, CacheBackendRedis)
	}
	if cfg.TMDB.RatePerSec <= 0 {
		return Config{}, fmt.Errorf("TMDB_RATE_PER_SEC must be positive")
	}
	if cfg.TMDB.TimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("TMDB_TIMEOUT_SECS must be positive")
	}
	if cfg.TMDB.ImportInterval < 0 {
		return Config{}, fmt.Errorf("TMDB_IMPORT_INTERVAL must be non-negative")
	}
	if cfg.TMDB.ImportInterval > 0 && cfg.TMDB.APIKey == "" {
		return Config{}, fmt.Errorf("TMDB_API_KEY is required when TMDB_IMPORT_INTERVAL is set")
	}
	if cfg.TMDB.ImportPages <= 0 {
		return Config{}, fmt.Errorf("TMDB_IMPORT_PAGES must be positive")
	}
	if cfg.Asset.TimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("ASSET_TIMEOUT_SECS must be positive")
	}
	if cfg.RateLimitPerMin < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_PER_MIN must be non-negative")
	}

	return cfg, nil
}

// AssetsEnabled reports whether the full image host credential triplet is present.
func (c Config) AssetsEnabled() bool {
	return c.Asset.CloudName != "" && c.Asset.APIKey != "" && c.Asset.APISecret != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
