package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// EmailRep implements a sender-reputation lookup against emailrep.io.
type EmailRep struct {
	APIKey      string
	BaseURL     string
	Client      *http.Client
	RateLimiter *RateLimiter
}

// EmailRepReport is the subset of the emailrep.io response we act on.
type EmailRepReport struct {
	Email      string `json:"email"`
	Reputation string `json:"reputation"`
	Suspicious bool   `json:"suspicious"`
	References int    `json:"references"`
	Details    struct {
		Blacklisted       bool `json:"blacklisted"`
		MaliciousActivity bool `json:"malicious_activity"`
		CredentialsLeaked bool `json:"credentials_leaked"`
		Spam              bool `json:"spam"`
	} `json:"details"`
}

// NewEmailRep initializes a new EmailRep client.
func NewEmailRep(apiKey string) (*EmailRep, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("emailrep api key: %w", ErrCredentialMissing)
	}
	return &EmailRep{
		APIKey:  apiKey,
		BaseURL: "https://emailrep.io",
		Client:  newHTTPClient(),
	}, nil
}

// Name returns the name of the backend.
func (c *EmailRep) Name() string { return "EmailRep" }

// SetRateLimiter sets the rate limiter for the client.
func (c *EmailRep) SetRateLimiter(limiter *RateLimiter) { c.RateLimiter = limiter }

// Get looks up the reputation of a sender address.
func (c *EmailRep) Get(ctx context.Context, email string) (*EmailRepReport, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s", c.BaseURL, url.PathEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}

	var report EmailRepReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode emailrep response: %w", err)
	}
	return &report, nil
}
