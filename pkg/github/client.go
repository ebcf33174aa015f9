// Package github fetches issues, comments, and collaborators from the
// GitHub REST API for lifecycle analysis. Fetches are paginated via the
// Link header, retried with exponential backoff, and paced to stay inside
// the API rate limit.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

const (
	// defaultBaseURL is the GitHub REST v3 endpoint.
	defaultBaseURL = "https://api.github.com"
	// userAgent identifies this tool to the API.
	userAgent = "issuestats"
	// httpTimeout is the per-request timeout for API calls.
	httpTimeout = 30 * time.Second
	// maxPerPage is the largest page size the issues API accepts.
	maxPerPage = 100
	// rateLimitFloor is the remaining-quota threshold below which the
	// client sleeps until the quota resets.
	rateLimitFloor = 10
	// requestsPerSecond paces outgoing API calls.
	requestsPerSecond = 8
	// retryAttempts bounds retries for a single page request.
	retryAttempts = 4
	// retryBaseDelay is the initial backoff delay between retries.
	retryBaseDelay = time.Second
	// retryMaxDelay caps the backoff delay between retries.
	retryMaxDelay = 30 * time.Second
	// maxDrainBytes limits how much of an error response body is read
	// before the connection is released.
	maxDrainBytes = 64 * 1024
)

// Client talks to the GitHub REST API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	token      string
	retryDelay time.Duration
	attempts   uint
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint (test servers).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger replaces the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a GitHub API client. The token may be empty, which
// leaves requests unauthenticated and subject to much lower rate limits.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: httpTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		logger:     slog.Default().With("component", "github"),
		baseURL:    defaultBaseURL,
		token:      token,
		retryDelay: retryBaseDelay,
		attempts:   retryAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseRepo splits an "owner/name" repository slug.
func ParseRepo(slug string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be in owner/name format, got %q", slug)
	}
	return owner, name, nil
}

// getJSON fetches one API page into out and returns the rel="next" URL from
// the Link header, empty at the end of the chain. Transport failures and
// server-side errors (5xx, 429) retry with exponential backoff; other HTTP
// errors fail immediately.
func (c *Client) getJSON(ctx context.Context, pageURL string, out any) (next string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("pacing limiter: %w", err)
	}

	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if reqErr != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", reqErr))
			}
			req.Header.Set("Accept", "application/vnd.github+json")
			req.Header.Set("User-Agent", userAgent)
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}

			resp, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return fmt.Errorf("execute request: %w", doErr)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				// Drain so the connection can be reused.
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
				statusErr := fmt.Errorf("GitHub request failed with status %d", resp.StatusCode)
				if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}

			if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", decodeErr))
			}

			next = nextPageURL(resp.Header.Get("Link"))
			return c.waitForRateLimit(ctx, resp.Header)
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying GitHub request", "url", pageURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", err
	}
	return next, nil
}

// waitForRateLimit sleeps until the API quota resets when the remaining
// request budget has dropped below rateLimitFloor.
func (c *Client) waitForRateLimit(ctx context.Context, header http.Header) error {
	remaining, err := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	if err != nil || remaining >= rateLimitFloor {
		return nil
	}
	resetUnix, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return nil
	}
	wait := time.Until(time.Unix(resetUnix, 0)) + time.Second
	if wait <= 0 {
		return nil
	}

	c.logger.Warn("Rate limit approaching, waiting for reset",
		"remaining", remaining,
		"wait", wait.Round(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextPageURL extracts the rel="next" target from a Link header. GitHub
// formats the header as `<url>; rel="next", <url>; rel="last"`.
func nextPageURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		target, params, ok := strings.Cut(part, ";")
		if !ok {
			continue
		}
		if strings.TrimSpace(params) != `rel="next"` {
			continue
		}
		return strings.Trim(strings.TrimSpace(target), "<>")
	}
	return ""
}
