// Package config loads gateway settings from the environment. A local .env
// file, if present, is overlaid first; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration of the panel gateway.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// BackendBaseURL points at the trusted platform API that owns crypto,
	// sessions and all business data. Required.
	BackendBaseURL string
	// BackendTimeout bounds every backend call (encrypt, decrypt, verify,
	// data reads). Timeouts deny, they never grant.
	BackendTimeout time.Duration
	// DenyRedirectDelay is how long the denial page lingers before
	// redirecting to LoginPath.
	DenyRedirectDelay time.Duration
	// LoginPath is where denied requests are sent.
	LoginPath string

	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64

	LogLevel string
}

const envPrefix = "MEALDESK_"

// Load builds a Config from the environment. Defaults are applied first,
// then .env, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:               ":8080",
		BackendTimeout:     5 * time.Second,
		DenyRedirectDelay:  2 * time.Second,
		LoginPath:          "/login",
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
		MaxBodyBytes:       1 << 20,
		LogLevel:           "info",
	}

	if v := getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.BackendBaseURL = strings.TrimRight(getenv("BACKEND_URL"), "/")
	if cfg.BackendBaseURL == "" {
		return Config{}, fmt.Errorf("config: %sBACKEND_URL is required", envPrefix)
	}
	if v := getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: invalid %sBACKEND_TIMEOUT: %q", envPrefix, v)
		}
		cfg.BackendTimeout = d
	}
	if v := getenv("DENY_REDIRECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: invalid %sDENY_REDIRECT_DELAY: %q", envPrefix, v)
		}
		cfg.DenyRedirectDelay = d
	}
	if v := getenv("LOGIN_PATH"); v != "" {
		if !strings.HasPrefix(v, "/") {
			return Config{}, fmt.Errorf("config: %sLOGIN_PATH must be absolute: %q", envPrefix, v)
		}
		cfg.LoginPath = v
	}
	if v := getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %sRATE_LIMIT_PER_SECOND: %q", envPrefix, v)
		}
		cfg.RateLimitPerSecond = n
	}
	if v := getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %sRATE_LIMIT_BURST: %q", envPrefix, v)
		}
		cfg.RateLimitBurst = n
	}
	if v := getenv("MAX_BODY_BYTES"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %sMAX_BODY_BYTES: %q", envPrefix, v)
		}
		cfg.MaxBodyBytes = int64(n)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
