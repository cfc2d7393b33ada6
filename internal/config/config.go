package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	ListenAddr string

	// DatabaseURL selects the durable store (PostgreSQL URL). When empty
	// the service runs on the in-memory store, which does not survive a
	// restart; only suitable for local development.
	DatabaseURL string

	// CaptureToken gates the capture endpoints. Empty disables the gate.
	CaptureToken string

	// Enabled turns request capture on or off globally. Query endpoints
	// stay available either way.
	Enabled bool

	// SamplingRate is the percentage (0-100) of observed requests that
	// get a timing entry. 100 captures everything, 0 captures nothing.
	SamplingRate float64

	// RetentionPeriod is how long finalized timing entries and
	// bronze/silver rows are kept before the sweeper evicts them.
	// Gold facts are never swept.
	RetentionPeriod time.Duration

	// StaleStartTimeout bounds timing entries that never finalize
	// (abandoned requests). They are evicted once older than this.
	StaleStartTimeout time.Duration

	// BatchSize is the maximum number of bronze records promoted to
	// silver in one pipeline pass.
	BatchSize int

	// BucketGranularity is the gold fact time-bucket width. Daily by
	// default; hourly analytics is a config change.
	BucketGranularity time.Duration

	ProcessInterval time.Duration
	SweepInterval   time.Duration

	IncludeDomains []string
	ExcludeDomains []string
	IncludeTypes   []string
	ExcludeTypes   []string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		ListenAddr:        getenv("NETPULSE_LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("NETPULSE_DATABASE_URL"),
		CaptureToken:      os.Getenv("NETPULSE_CAPTURE_TOKEN"),
		Enabled:           getbool("NETPULSE_ENABLED", true),
		SamplingRate:      getfloat("NETPULSE_SAMPLING_RATE", 100),
		RetentionPeriod:   getms("NETPULSE_RETENTION_PERIOD_MS", 7*24*time.Hour),
		StaleStartTimeout: getms("NETPULSE_STALE_START_TIMEOUT_MS", 5*time.Minute),
		BatchSize:         getint("NETPULSE_BATCH_SIZE", 200),
		BucketGranularity: getdur("NETPULSE_BUCKET_GRANULARITY", 24*time.Hour),
		ProcessInterval:   getdur("NETPULSE_PROCESS_INTERVAL", 10*time.Second),
		SweepInterval:     getdur("NETPULSE_SWEEP_INTERVAL", time.Hour),
		IncludeDomains:    getlist("NETPULSE_INCLUDE_DOMAINS"),
		ExcludeDomains:    getlist("NETPULSE_EXCLUDE_DOMAINS"),
		IncludeTypes:      getlist("NETPULSE_INCLUDE_TYPES"),
		ExcludeTypes:      getlist("NETPULSE_EXCLUDE_TYPES"),
	}

	if cfg.SamplingRate < 0 {
		cfg.SamplingRate = 0
	}
	if cfg.SamplingRate > 100 {
		cfg.SamplingRate = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getms reads an integer millisecond value, the unit the capture side
// (browser performance timestamps) speaks natively.
func getms(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
