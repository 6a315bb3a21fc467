package config

import "time"

// KashFlowConfig holds KashFlow API configuration
type KashFlowConfig struct {
	Username      string
	Password      string
	MemorableWord string
	APIBaseURL    string
	Timeout       time.Duration
	TokenTTL      time.Duration
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds retry and pacing configuration for upstream calls
type RateLimitConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RetryMultiplier   float64
	MinRetryAfter     time.Duration
	RequestsPerSecond int
}

// DefaultKashFlowConfig returns the default KashFlow configuration
func DefaultKashFlowConfig() *KashFlowConfig {
	return &KashFlowConfig{
		APIBaseURL: "https://api.kashflow.com/v2",
		Timeout:    30 * time.Second,
		TokenTTL:   45 * time.Minute,
		RateLimit: RateLimitConfig{
			MaxRetries:        5,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Minute,
			RetryMultiplier:   2.0,
			MinRetryAfter:     2 * time.Second,
			RequestsPerSecond: 5,
		},
	}
}

func loadKashFlowConfig() (*KashFlowConfig, error) {
	cfg := DefaultKashFlowConfig()
	cfg.Username = getEnv("KASHFLOW_USERNAME", "")
	cfg.Password = getEnv("KASHFLOW_PASSWORD", "")
	cfg.MemorableWord = getEnv("KASHFLOW_MEMORABLE_WORD", "")
	cfg.APIBaseURL = getEnv("KASHFLOW_BASE_URL", cfg.APIBaseURL)

	timeout, err := getInt("KASHFLOW_TIMEOUT_SECONDS", int(cfg.Timeout/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.Timeout = time.Duration(timeout) * time.Second

	if cfg.RateLimit.MaxRetries, err = getInt("KASHFLOW_MAX_RETRIES", cfg.RateLimit.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.RateLimit.RequestsPerSecond, err = getInt("KASHFLOW_REQUESTS_PER_SECOND", cfg.RateLimit.RequestsPerSecond); err != nil {
		return nil, err
	}
	return cfg, nil
}
