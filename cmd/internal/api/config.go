package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Scan endpoints allow ScanIPMax requests per client IP per ScanIPWindow.
	ScanIPMax    int
	ScanIPWindow time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("LOYALTY_API_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("LOYALTY_API_MAX_BODY_BYTES", 64<<10),
		ScanIPMax:    envInt("LOYALTY_SCAN_IP_MAX", 60),
		ScanIPWindow: envDuration("LOYALTY_SCAN_IP_WINDOW", time.Minute),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.ScanIPMax <= 0 {
		c.ScanIPMax = 60
	}
	if c.ScanIPWindow <= 0 {
		c.ScanIPWindow = time.Minute
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
