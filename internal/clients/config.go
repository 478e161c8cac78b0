package clients

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds the backend credentials and limits. Empty values mean the
// integration is disabled.
type Config struct {
	SpamAssassinHost    string
	SpamAssassinPort    int
	SpamAssassinTimeout time.Duration
	EmailRepAPIKey      string
	VirusTotalAPIKey    string
	InQuestAPIKey       string
	UrlScanAPIKey       string
	OpenAIAPIKey        string
	OpenAIModel         string
	RateLimits          []RateLimitConfig
}

// RateLimitConfig defines rate limiting settings per backend.
type RateLimitConfig struct {
	APIName string
	Rate    rate.Limit // Requests per second
	Burst   int        // Maximum burst size
}

// LoadConfig loads client configuration from environment variables.
func LoadConfig() (*Config, error) {
	port := 783
	if portStr := os.Getenv("SPAMASSASSIN_PORT"); portStr != "" {
		parsed, err := strconv.Atoi(portStr)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid SPAMASSASSIN_PORT: %q", portStr)
		}
		port = parsed
	}

	timeout := 30 * time.Second
	if timeoutStr := os.Getenv("SPAMASSASSIN_TIMEOUT_SECONDS"); timeoutStr != "" {
		parsed, err := strconv.Atoi(timeoutStr)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid SPAMASSASSIN_TIMEOUT_SECONDS: %q", timeoutStr)
		}
		timeout = time.Duration(parsed) * time.Second
	}

	rateLimits, err := parseRateLimits(os.Getenv("RATE_LIMITS"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RATE_LIMITS: %w", err)
	}

	return &Config{
		SpamAssassinHost:    os.Getenv("SPAMASSASSIN_HOST"),
		SpamAssassinPort:    port,
		SpamAssassinTimeout: timeout,
		EmailRepAPIKey:      os.Getenv("EMAILREP_API_KEY"),
		VirusTotalAPIKey:    os.Getenv("VT_API_KEY"),
		InQuestAPIKey:       os.Getenv("INQUEST_API_KEY"),
		UrlScanAPIKey:       os.Getenv("URLSCAN_API_KEY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		RateLimits:          rateLimits,
	}, nil
}

// parseRateLimits parses rate limits from a comma-separated list of
// Name:rate:burst entries.
func parseRateLimits(input string) ([]RateLimitConfig, error) {
	var rateLimits []RateLimitConfig
	if input == "" {
		return rateLimits, nil
	}
	for _, entry := range strings.Split(input, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid rate limit entry: %s", entry)
		}
		rateValue, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate value in entry '%s': %w", entry, err)
		}
		burstValue, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid burst value in entry '%s': %w", entry, err)
		}
		rateLimits = append(rateLimits, RateLimitConfig{
			APIName: strings.TrimSpace(parts[0]),
			Rate:    rate.Limit(rateValue),
			Burst:   burstValue,
		})
	}
	return rateLimits, nil
}

// Set holds one optional client per backend. A nil client means the
// integration is not configured for this process.
type Set struct {
	SpamAssassin *SpamAssassin
	EmailRep     *EmailRep
	VirusTotal   *VirusTotal
	InQuest      *InQuest
	UrlScan      *UrlScan
	OpenAI       *OpenAI
}

// NewSet builds the client set from configuration. Missing credentials are
// logged and leave the corresponding client nil; any other constructor
// failure is returned.
func NewSet(cfg *Config, logger *logrus.Logger) (*Set, error) {
	set := &Set{}

	var err error
	if set.SpamAssassin, err = NewSpamAssassin(cfg.SpamAssassinHost, cfg.SpamAssassinPort, cfg.SpamAssassinTimeout); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("SpamAssassin host not provided. Skipping mail-hygiene scans.")
	}
	if set.EmailRep, err = NewEmailRep(cfg.EmailRepAPIKey); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("EmailRep API key not provided. Skipping sender-reputation lookups.")
	}
	if set.VirusTotal, err = NewVirusTotal(cfg.VirusTotalAPIKey); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("VirusTotal API key not provided. Skipping VirusTotal lookups.")
	}
	if set.InQuest, err = NewInQuest(cfg.InQuestAPIKey); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("InQuest API key not provided. Skipping InQuest lookups.")
	}
	if set.UrlScan, err = NewUrlScan(cfg.UrlScanAPIKey); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("urlscan.io API key not provided. Skipping URL-reputation lookups.")
	}
	if set.OpenAI, err = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel); err != nil {
		if !errors.Is(err, ErrCredentialMissing) {
			return nil, err
		}
		logger.Warn("OpenAI API key not provided. Skipping reviewer commentary.")
	}

	set.applyRateLimits(cfg.RateLimits, logger)
	return set, nil
}

func (s *Set) applyRateLimits(limits []RateLimitConfig, logger *logrus.Logger) {
	for _, client := range s.clients() {
		for _, rl := range limits {
			if rl.APIName != client.Name() {
				continue
			}
			limiter := &RateLimiter{
				Limiter: rate.NewLimiter(rl.Rate, rl.Burst),
				Burst:   rl.Burst,
				Rate:    rl.Rate,
			}
			logger.Infof("Setting rate limiter for %s: %v req/s burst %d",
				client.Name(), rl.Rate, rl.Burst)
			client.SetRateLimiter(limiter)
		}
	}
}

func (s *Set) clients() []Client {
	var out []Client
	if s.SpamAssassin != nil {
		out = append(out, s.SpamAssassin)
	}
	if s.EmailRep != nil {
		out = append(out, s.EmailRep)
	}
	if s.VirusTotal != nil {
		out = append(out, s.VirusTotal)
	}
	if s.InQuest != nil {
		out = append(out, s.InQuest)
	}
	if s.UrlScan != nil {
		out = append(out, s.UrlScan)
	}
	if s.OpenAI != nil {
		out = append(out, s.OpenAI)
	}
	return out
}
