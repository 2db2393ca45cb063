// Package config holds the runtime settings shared by the CLI and the HTTP
// server. Values come from defaults, then GAIAVIZ_* environment variables,
// then command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/propagation"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheDisk  = "disk"
	CacheRedis = "redis"
)

type Config struct {
	// TAPURL is the Gaia TAP sync endpoint (GAIAVIZ_TAP_URL).
	TAPURL string
	// TAPTimeout bounds one catalog request (GAIAVIZ_TAP_TIMEOUT).
	TAPTimeout time.Duration

	// CacheBackend selects the result cache: none, disk or redis
	// (GAIAVIZ_CACHE_BACKEND).
	CacheBackend string
	// CacheDir holds disk cache files (GAIAVIZ_CACHE_DIR).
	CacheDir string
	// CacheMaxFiles is the number of files kept per query (GAIAVIZ_CACHE_MAX_FILES).
	CacheMaxFiles int
	// CacheTTL is how long a cached result is served (GAIAVIZ_CACHE_TTL).
	CacheTTL time.Duration
	// RedisAddr is host:port of the Redis server (GAIAVIZ_REDIS_ADDR).
	RedisAddr string

	// PropWorkers bounds propagation goroutines (GAIAVIZ_PROP_WORKERS).
	PropWorkers int
	// MotionModel is linear or halo (GAIAVIZ_MOTION_MODEL).
	MotionModel string
	// FrameCacheEntries is the number of frame sets kept in memory by the
	// server (GAIAVIZ_FRAME_CACHE_ENTRIES).
	FrameCacheEntries int

	// HTTPAddr is the serve listen address (GAIAVIZ_HTTP_ADDR).
	HTTPAddr string
	// AuthToken enables bearer auth when set (GAIAVIZ_AUTH_TOKEN).
	AuthToken string
	// TrustProxy honours X-Forwarded-For for client IPs (GAIAVIZ_TRUST_PROXY).
	TrustProxy bool

	// StreamMaxConcurrent caps SSE streams per client IP
	// (GAIAVIZ_STREAM_MAX_CONCURRENT).
	StreamMaxConcurrent int
	// StreamInterval is the delay between SSE frames (GAIAVIZ_STREAM_INTERVAL).
	StreamInterval time.Duration
	// StreamKeepaliveInterval is the SSE comment interval
	// (GAIAVIZ_STREAM_KEEPALIVE_INTERVAL).
	StreamKeepaliveInterval time.Duration

	// Verbose switches logging to debug level (--verbose).
	Verbose bool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		TAPURL:                  gaia.DefaultTAPURL,
		TAPTimeout:              60 * time.Second,
		CacheBackend:            CacheDisk,
		CacheDir:                filepath.Join(os.TempDir(), "gaiaviz"),
		CacheMaxFiles:           5,
		CacheTTL:                24 * time.Hour,
		RedisAddr:               "localhost:6379",
		PropWorkers:             runtime.NumCPU(),
		MotionModel:             propagation.ModelLinear,
		FrameCacheEntries:       32,
		HTTPAddr:                ":8080",
		StreamMaxConcurrent:     10,
		StreamInterval:          time.Second,
		StreamKeepaliveInterval: 30 * time.Second,
	}
}

// LoadEnv applies GAIAVIZ_* variables on top of Defaults. Malformed values
// are logged and ignored.
func LoadEnv(logger *slog.Logger) Config {
	cfg := Defaults()

	if v := os.Getenv("GAIAVIZ_TAP_URL"); v != "" {
		cfg.TAPURL = v
	}
	cfg.TAPTimeout = envDuration(logger, "GAIAVIZ_TAP_TIMEOUT", cfg.TAPTimeout)

	if v := os.Getenv("GAIAVIZ_CACHE_BACKEND"); v != "" {
		cfg.CacheBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("GAIAVIZ_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	cfg.CacheMaxFiles = envInt(logger, "GAIAVIZ_CACHE_MAX_FILES", cfg.CacheMaxFiles)
	cfg.CacheTTL = envDuration(logger, "GAIAVIZ_CACHE_TTL", cfg.CacheTTL)
	if v := os.Getenv("GAIAVIZ_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	cfg.PropWorkers = envInt(logger, "GAIAVIZ_PROP_WORKERS", cfg.PropWorkers)
	if v := os.Getenv("GAIAVIZ_MOTION_MODEL"); v != "" {
		cfg.MotionModel = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.FrameCacheEntries = envInt(logger, "GAIAVIZ_FRAME_CACHE_ENTRIES", cfg.FrameCacheEntries)

	if v := os.Getenv("GAIAVIZ_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.AuthToken = os.Getenv("GAIAVIZ_AUTH_TOKEN")
	cfg.TrustProxy = envBool(logger, "GAIAVIZ_TRUST_PROXY", cfg.TrustProxy)

	cfg.StreamMaxConcurrent = envInt(logger, "GAIAVIZ_STREAM_MAX_CONCURRENT", cfg.StreamMaxConcurrent)
	cfg.StreamInterval = envDuration(logger, "GAIAVIZ_STREAM_INTERVAL", cfg.StreamInterval)
	cfg.StreamKeepaliveInterval = envDuration(logger, "GAIAVIZ_STREAM_KEEPALIVE_INTERVAL", cfg.StreamKeepaliveInterval)

	return cfg
}

func envInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s", "2h") or whole seconds.
func envDuration(logger *slog.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def.String())
		return def
	}
	return d
}

func envBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}

// Validate checks the configuration after flags have been applied.
func (c *Config) Validate() error {
	u, err := url.Parse(c.TAPURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid TAP URL %q: must be an absolute http(s) URL", c.TAPURL)
	}
	if c.TAPTimeout <= 0 {
		return errors.New("TAP timeout must be > 0")
	}

	switch c.CacheBackend {
	case CacheNone:
	case CacheDisk:
		if c.CacheDir == "" {
			return errors.New("cache dir is required for the disk cache")
		}
		if c.CacheMaxFiles < 1 {
			return errors.New("cache max files must be >= 1")
		}
	case CacheRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address is required for the redis cache")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s (must be one of: none, disk, redis)", c.CacheBackend)
	}
	if c.CacheTTL < 0 {
		return errors.New("cache ttl must be >= 0")
	}

	if c.PropWorkers < 1 {
		return errors.New("propagation workers must be >= 1")
	}
	if _, err := propagation.NewModel(c.MotionModel); err != nil {
		return err
	}
	if c.FrameCacheEntries < 1 {
		return errors.New("frame cache entries must be >= 1")
	}

	if c.StreamMaxConcurrent < 1 {
		return errors.New("stream max concurrent must be >= 1")
	}
	if c.StreamInterval <= 0 || c.StreamKeepaliveInterval <= 0 {
		return errors.New("stream intervals must be > 0")
	}
	return nil
}

// LogValue implements slog.LogValuer. The auth token is never logged.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tap_url", c.TAPURL),
		slog.Float64("tap_timeout_seconds", c.TAPTimeout.Seconds()),
		slog.String("cache_backend", c.CacheBackend),
		slog.String("cache_dir", c.CacheDir),
		slog.Int("cache_max_files", c.CacheMaxFiles),
		slog.Float64("cache_ttl_seconds", c.CacheTTL.Seconds()),
		slog.Int("prop_workers", c.PropWorkers),
		slog.String("motion_model", c.MotionModel),
		slog.String("http_addr", c.HTTPAddr),
		slog.Bool("auth_enabled", c.AuthToken != ""),
	)
}
