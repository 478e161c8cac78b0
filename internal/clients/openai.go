package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultOpenAIModel is used when a request does not name a model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI sends free-text prompts to the chat completions API.
type OpenAI struct {
	APIKey      string
	BaseURL     string
	Model       string
	Client      *http.Client
	RateLimiter *RateLimiter
}

// NewOpenAI initializes a new OpenAI client.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key: %w", ErrCredentialMissing)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com",
		Model:   model,
		Client:  newHTTPClient(),
	}, nil
}

// Name returns the name of the backend.
func (c *OpenAI) Name() string { return "OpenAI" }

// SetRateLimiter sets the rate limiter for the client.
func (c *OpenAI) SetRateLimiter(limiter *RateLimiter) { c.RateLimiter = limiter }

// SendPrompt sends one user prompt and returns the first reply text.
// An empty model falls back to the configured default.
func (c *OpenAI) SendPrompt(ctx context.Context, prompt, model string) (string, error) {
	if err := waitForSlot(ctx, c.RateLimiter); err != nil {
		return "", err
	}
	if model == "" {
		model = c.Model
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newAPIError(resp)
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("openai response carried no choices")
	}
	return payload.Choices[0].Message.Content, nil
}
