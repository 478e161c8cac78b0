package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

// VirusTotal implements file-hash lookups and file submissions against the
// VirusTotal v3 API.
type VirusTotal struct {
	APIKey      string
	BaseURL     string
	Client      *http.Client
	RateLimiter *RateLimiter
}

// VTAnalysisStats mirrors last_analysis_stats of a file object.
type VTAnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
}

// VTFileReport is the outcome of a hash lookup. Found is false when the
// hash is unknown to VirusTotal.
type VTFileReport struct {
	SHA256 string
	Found  bool
	Stats  VTAnalysisStats
}

// NewVirusTotal initializes a new VirusTotal client.
func NewVirusTotal(apiKey string) (*VirusTotal, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("virustotal api key: %w", ErrCredentialMissing)
	}
	return &VirusTotal{
		APIKey:  apiKey,
		BaseURL: "https://www.virustotal.com",
		Client:  newHTTPClient(),
	}, nil
}

// Name returns the name of the backend.
func (c *VirusTotal) Name() string { return "VirusTotal" }

// SetRateLimiter sets the rate limiter for the client.
func (c *VirusTotal) SetRateLimiter(limiter *RateLimiter) { c.RateLimiter = limiter }

// GetFileReport looks one hash up. An unknown hash is not an error.
func (c *VirusTotal) GetFileReport(ctx context.Context, sha256 string) (*VTFileReport, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v3/files/%s", c.BaseURL, sha256)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			Data struct {
				Attributes struct {
					LastAnalysisStats VTAnalysisStats `json:"last_analysis_stats"`
				} `json:"attributes"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode virustotal response: %w", err)
		}
		return &VTFileReport{
			SHA256: sha256,
			Found:  true,
			Stats:  payload.Data.Attributes.LastAnalysisStats,
		}, nil
	case http.StatusNotFound:
		return &VTFileReport{SHA256: sha256}, nil
	default:
		return nil, newAPIError(resp)
	}
}

// ScanFile uploads a file for analysis.
func (c *VirusTotal) ScanFile(ctx context.Context, filename string, data []byte) error {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/v3/files", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("x-apikey", c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	return nil
}
