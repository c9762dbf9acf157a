// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package github

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v66/github"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
)

// RetryConfig defines the retry behavior for API calls
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig is used by NewClient.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// githubClient implements the Client interface using go-github
type githubClient struct {
	client      *github.Client
	retryConfig *RetryConfig
}

// Option customizes a client.
type Option func(*githubClient) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(c *githubClient) error {
		if raw == "" {
			return nil
		}
		if raw[len(raw)-1] != '/' {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid GitHub base URL %q: %w", raw, err)
		}
		c.client.BaseURL = u
		return nil
	}
}

// WithRetryConfig overrides the retry behavior.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *githubClient) error {
		c.retryConfig = cfg
		return nil
	}
}

// NewClient creates a new GitHub client with the provided token. An empty
// token uses unauthenticated access.
func NewClient(token string, opts ...Option) (Client, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = &http.Client{
			Transport: &github.BasicAuthTransport{
				Username: "token",
				Password: token,
			},
		}
	}

	c := &githubClient{
		client:      github.NewClient(httpClient),
		retryConfig: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LatestRelease retrieves the latest published release
func (c *githubClient) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	var release *github.RepositoryRelease

	err := c.executeWithRetry(ctx, func() error {
		var err error
		release, _, err = c.client.Repositories.GetLatestRelease(ctx, owner, repo)
		return err
	})
	if err != nil {
		return nil, c.wrap("latest release", owner+"/"+repo, err)
	}

	return convertRelease(release), nil
}

func (c *githubClient) wrap(kind, name string, err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return &errdefs.NotFoundError{Kind: kind, Name: name, Err: err}
	}
	return fmt.Errorf("failed to get %s %s: %w", kind, name, err)
}

// executeWithRetry executes an operation with exponential backoff retry
func (c *githubClient) executeWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		// Check if context is cancelled before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if !c.isRetryableError(lastErr) {
			return lastErr
		}

		if attempt == c.retryConfig.MaxRetries {
			break
		}

		backoff := c.calculateBackoff(attempt)
		if wait, limited := c.rateLimitWait(lastErr); limited && wait > backoff {
			backoff = wait
		}
		logf.FromContext(ctx).V(1).Info("Retrying GitHub request", "attempt", attempt+1, "backoff", backoff, "error", lastErr.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", c.retryConfig.MaxRetries, lastErr)
}

// isRetryableError determines if an error should trigger a retry
func (c *githubClient) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			// Check if it's a rate limit error
			if ghErr.Message == "API rate limit exceeded" {
				return true
			}
		}
	}

	return false
}

// calculateBackoff calculates the backoff duration for a retry attempt
func (c *githubClient) calculateBackoff(attempt int) time.Duration {
	multiplier := 1 << uint(attempt) // 2^attempt
	base := float64(c.retryConfig.InitialBackoff) * float64(multiplier)

	// Add jitter (±20%)
	jitter := (rand.Float64() * 0.4) - 0.2
	backoff := time.Duration(base * (1 + jitter))

	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	return backoff
}

// rateLimitWait returns how long GitHub asked us to wait, capped at MaxBackoff.
func (c *githubClient) rateLimitWait(err error) (time.Duration, bool) {
	var wait time.Duration

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		wait = time.Until(rateErr.Rate.Reset.Time)
	case errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil:
		wait = *abuseErr.RetryAfter
	default:
		return 0, false
	}

	if wait < 0 {
		wait = 0
	}
	if wait > c.retryConfig.MaxBackoff {
		wait = c.retryConfig.MaxBackoff
	}
	return wait, true
}

func convertRelease(r *github.RepositoryRelease) *Release {
	if r == nil {
		return nil
	}
	return &Release{
		TagName:     r.GetTagName(),
		Name:        r.GetName(),
		Prerelease:  r.GetPrerelease(),
		Draft:       r.GetDraft(),
		URL:         r.GetHTMLURL(),
		PublishedAt: r.GetPublishedAt().Time,
	}
}
