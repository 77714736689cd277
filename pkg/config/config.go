package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transports the CLI can reach a kernel over.
const (
	TransportDemo  = "demo"
	TransportRedis = "redis"
)

// Config holds CLI configuration.
type Config struct {
	LogLevel  string
	LogFormat string // "text" | "json"
	Transport string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Timeout       time.Duration

	// RateLimit caps wire calls per second; zero leaves them unlimited.
	RateLimit float64
	RateBurst int

	OTLPEnabled  bool
	OTLPEndpoint string
	OTLPInsecure bool

	TapeDir string // when set, wire exchanges are recorded here
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		LogLevel:      envOr("ORGANON_LOG_LEVEL", "INFO"),
		LogFormat:     envOr("ORGANON_LOG_FORMAT", "text"),
		Transport:     envOr("ORGANON_TRANSPORT", TransportDemo),
		RedisAddr:     envOr("ORGANON_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("ORGANON_REDIS_PASSWORD"),
		RedisPrefix:   envOr("ORGANON_REDIS_PREFIX", "organon:gds"),
		Timeout:       30 * time.Second,
		OTLPEnabled:   os.Getenv("ORGANON_OTLP_ENABLED") == "true",
		OTLPEndpoint:  envOr("ORGANON_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:  os.Getenv("ORGANON_OTLP_INSECURE") != "false",
		TapeDir:       os.Getenv("ORGANON_TAPE_DIR"),
	}
	if db, err := strconv.Atoi(os.Getenv("ORGANON_REDIS_DB")); err == nil {
		cfg.RedisDB = db
	}
	if d, err := time.ParseDuration(os.Getenv("ORGANON_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if v := os.Getenv("ORGANON_RATE_LIMIT"); v != "" {
		// Unparsable values are kept negative so Validate reports them.
		cfg.RateLimit = -1
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = r
		}
	}
	cfg.RateBurst = 1
	if b, err := strconv.Atoi(os.Getenv("ORGANON_RATE_BURST")); err == nil && b > 0 {
		cfg.RateBurst = b
	}
	return cfg
}

// Validate rejects values Load passes through but nothing can use.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportDemo, TransportRedis:
	default:
		return fmt.Errorf("config: unknown transport %q (want %s or %s)", c.Transport, TransportDemo, TransportRedis)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate limit must be a non-negative number of calls per second")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger described by c, writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
