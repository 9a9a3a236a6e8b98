// client.go executes signed RequestSpecs over HTTP.
//
// One Client is shared by everything a single adapter does. It wraps a resty
// client with a base URL and timeout, waits on the per-category token bucket
// before each call, and retries exactly once on transport failure when the
// spec is marked idempotent (query, cancel). Order placement is never
// retried: a timed-out place may still have reached the venue, and a blind
// resend would double the position.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 10 * time.Second

// Client is the shared REST transport for one venue session.
type Client struct {
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a transport rooted at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

// Do executes the spec and returns the response body verbatim. Non-2xx
// responses are returned as-is: venues report order-level errors inside
// JSON bodies, and the adapter's translator owns that interpretation.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (string, error) {
	if err := c.rl.Bucket(spec.Category).Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	body, err := c.send(ctx, spec)
	if err != nil && spec.Idempotent && ctx.Err() == nil {
		c.logger.Warn("transport failure, retrying once",
			"method", spec.Method,
			"path", spec.Path,
			"error", err,
		)
		body, err = c.send(ctx, spec)
	}
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", spec.Method, spec.Path, err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, spec RequestSpec) (string, error) {
	req := c.http.R().SetContext(ctx).SetHeaders(spec.Headers)
	if spec.Body != "" {
		// The raw string goes on the wire byte-identical to what was signed.
		req.SetBody(spec.Body)
	}

	resp, err := req.Execute(spec.Method, spec.Path)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}
