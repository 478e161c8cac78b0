package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// UrlScan implements URL-reputation searches against urlscan.io.
type UrlScan struct {
	APIKey      string
	BaseURL     string
	Client      *http.Client
	RateLimiter *RateLimiter
}

// UrlScanResult summarizes the scans urlscan.io has seen for one URL.
type UrlScanResult struct {
	URL       string
	Total     int
	Malicious bool
	ReportURL string
}

// NewUrlScan initializes a new urlscan.io client.
func NewUrlScan(apiKey string) (*UrlScan, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("urlscan api key: %w", ErrCredentialMissing)
	}
	return &UrlScan{
		APIKey:  apiKey,
		BaseURL: "https://urlscan.io",
		Client:  newHTTPClient(),
	}, nil
}

// Name returns the name of the backend.
func (c *UrlScan) Name() string { return "urlscan.io" }

// SetRateLimiter sets the rate limiter for the client.
func (c *UrlScan) SetRateLimiter(limiter *RateLimiter) { c.RateLimiter = limiter }

// Search queries past scans for one page URL.
func (c *UrlScan) Search(ctx context.Context, pageURL string) (*UrlScanResult, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return nil, err
	}

	query := url.QueryEscape(fmt.Sprintf("page.url:%q", pageURL))
	endpoint := fmt.Sprintf("%s/api/v1/search/?q=%s", c.BaseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}

	var payload struct {
		Total   int `json:"total"`
		Results []struct {
			Result   string `json:"result"`
			Verdicts struct {
				Overall struct {
					Malicious bool `json:"malicious"`
				} `json:"overall"`
			} `json:"verdicts"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode urlscan response: %w", err)
	}

	result := &UrlScanResult{URL: pageURL, Total: payload.Total}
	for _, entry := range payload.Results {
		if result.ReportURL == "" {
			result.ReportURL = entry.Result
		}
		if entry.Verdicts.Overall.Malicious {
			result.Malicious = true
			result.ReportURL = entry.Result
		}
	}
	return result, nil
}
