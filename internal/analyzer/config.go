package analyzer

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the analyzer-specific configuration.
type Config struct {
	// MaxConcurrency bounds the fan-out width. <= 0 means unbounded.
	MaxConcurrency int64
}

// LoadConfig loads analyzer configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if raw := os.Getenv("ANALYZER_MAX_CONCURRENCY"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ANALYZER_MAX_CONCURRENCY: %q", raw)
		}
		cfg.MaxConcurrency = parsed
	}
	return cfg, nil
}
