package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrCredentialMissing is returned by a client constructor when the
// credential (or host) for that backend is not configured. Callers treat
// it as "integration disabled", not as a failure.
var ErrCredentialMissing = errors.New("credential missing")

// Client is the surface every backend client exposes so rate limiters can
// be attached by provider name.
type Client interface {
	// Name returns the name of the backend this client talks to.
	Name() string
	// SetRateLimiter sets the rate limiter for the client.
	SetRateLimiter(limiter *RateLimiter)
}

type RateLimiter struct {
	Limiter *rate.Limiter
	Burst   int
	Rate    rate.Limit // Requests per second
}

// waitForSlot blocks until the limiter grants a slot, or the context ends.
// A nil limiter grants immediately.
func waitForSlot(ctx context.Context, limiter *RateLimiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// APIError carries an upstream HTTP failure verbatim so submission
// endpoints can surface the backend's own status and message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// newAPIError drains up to 4 KiB of the response body for the message.
func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
