package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
)

// InQuest implements hash lookups and file submissions against the
// InQuest Labs DFI API.
type InQuest struct {
	APIKey      string
	BaseURL     string
	Client      *http.Client
	RateLimiter *RateLimiter
}

// InQuestReport is the outcome of a hash lookup.
type InQuestReport struct {
	SHA256         string
	Found          bool
	Classification string
}

// NewInQuest initializes a new InQuest client.
func NewInQuest(apiKey string) (*InQuest, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inquest api key: %w", ErrCredentialMissing)
	}
	return &InQuest{
		APIKey:  apiKey,
		BaseURL: "https://labs.inquest.net",
		Client:  newHTTPClient(),
	}, nil
}

// Name returns the name of the backend.
func (c *InQuest) Name() string { return "InQuest" }

// SetRateLimiter sets the rate limiter for the client.
func (c *InQuest) SetRateLimiter(limiter *RateLimiter) { c.RateLimiter = limiter }

// SearchHash looks one SHA-256 up in the DFI corpus.
func (c *InQuest) SearchHash(ctx context.Context, sha256 string) (*InQuestReport, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/dfi/search/hash/sha256?hash=%s", c.BaseURL, url.QueryEscape(sha256))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}

	var payload struct {
		Data []struct {
			Classification string `json:"classification"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode inquest response: %w", err)
	}

	report := &InQuestReport{SHA256: sha256}
	if len(payload.Data) > 0 {
		report.Found = true
		report.Classification = payload.Data[0].Classification
	}
	return report, nil
}

// Upload submits a file for deep inspection and returns a reference URL.
func (c *InQuest) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/api/dfi/upload", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newAPIError(resp)
	}

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode inquest upload response: %w", err)
	}
	return fmt.Sprintf("%s/dfi/sha256/%s", c.BaseURL, payload.Data), nil
}
