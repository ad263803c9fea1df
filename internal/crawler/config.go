package crawler

import (
	"time"
)

// Config holds shared configuration for source crawlers.
type Config struct {
	DefaultTimeout time.Duration // Default timeout for requests
	RateLimit      int           // Maximum requests per second against a source
	UserAgent      string        // User agent string for requests
	RetryAttempts  int           // Number of retry attempts for failed requests
	RetryDelay     time.Duration // Delay between retry attempts
	CacheDir       string        // Root directory for snapshot cache files
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout: 30 * time.Second,
		RateLimit:      5,
		UserAgent:      "Pricefeed/1.0 (+https://pricefeed.velebit-labs.dev/about)",
		RetryAttempts:  3,
		RetryDelay:     500 * time.Millisecond,
	}
}
