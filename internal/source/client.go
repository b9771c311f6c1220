package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/carecost/carecost/internal/metrics"
	"github.com/carecost/carecost/internal/state"
)

// Sentinel errors callers switch on to classify a failed fetch.
var (
	// ErrMemberNotFound: the accumulator source does not know the member.
	ErrMemberNotFound = errors.New("member not found")
	// ErrUnavailable: the source could not answer after retries, or its
	// circuit breaker is open.
	ErrUnavailable = errors.New("source unavailable")
	// ErrAuthExpired: authentication kept failing even after a token
	// refresh.
	ErrAuthExpired = errors.New("source authentication expired")
)

// Client is the shared authenticated HTTP client for every upstream source.
// It retries transient failures with exponential backoff, refreshes the
// token once on 401, and reports outcomes to the per-source circuit breaker.
type Client struct {
	http       *http.Client
	tokens     *TokenManager
	breaker    *state.CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOptions configures a Client. Zero fields fall back to defaults.
type ClientOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func NewClient(tokens *TokenManager, breaker *state.CircuitBreaker, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 1 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: opts.Timeout},
		tokens:     tokens,
		breaker:    breaker,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
}

// Do performs an authenticated request against the named source. It handles
// 401 (token refresh, one retry), 429, and 5xx with exponential backoff.
// The caller owns the returned body.
func (c *Client) Do(ctx context.Context, source, method, reqURL string, body io.Reader) (*http.Response, error) {
	if c.breaker != nil && c.breaker.IsTripped(source) {
		metrics.SourceRequestsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("%s circuit open: %w", source, ErrUnavailable)
	}

	// Buffer the body so we can replay it on retries.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.recordFailure(source)
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SourceDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	refreshed := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("creating %s request: %w", source, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == c.maxRetries {
				c.recordFailure(source)
				return nil, fmt.Errorf("%s request failed after %d retries: %w: %w", source, c.maxRetries, ErrUnavailable, err)
			}
			metrics.SourceRequestsTotal.WithLabelValues(source, "retry").Inc()
			c.backoff(ctx, attempt, nil)
			continue
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			resp.Body.Close()
			if refreshed {
				// Fresh token was rejected too; give up.
				c.recordFailure(source)
				return nil, fmt.Errorf("%s rejected refreshed token: %w", source, ErrAuthExpired)
			}
			refreshed = true
			c.tokens.Invalidate()
			token, err = c.tokens.Token(ctx)
			if err != nil {
				c.recordFailure(source)
				return nil, err
			}
			continue

		case http.StatusTooManyRequests, http.StatusServiceUnavailable,
			http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
			if attempt == c.maxRetries {
				resp.Body.Close()
				c.recordFailure(source)
				return nil, fmt.Errorf("%s returned status %d after retries: %w", source, resp.StatusCode, ErrUnavailable)
			}
			resp.Body.Close()
			metrics.SourceRequestsTotal.WithLabelValues(source, "retry").Inc()
			c.backoff(ctx, attempt, resp)
			continue

		default:
			c.recordSuccess(source)
			return resp, nil
		}
	}

	c.recordFailure(source)
	return nil, fmt.Errorf("%s request failed: exhausted retries: %w", source, ErrUnavailable)
}

func (c *Client) recordSuccess(source string) {
	metrics.SourceRequestsTotal.WithLabelValues(source, "ok").Inc()
	if c.breaker != nil {
		c.breaker.RecordSuccess(source)
	}
}

func (c *Client) recordFailure(source string) {
	metrics.SourceRequestsTotal.WithLabelValues(source, "error").Inc()
	if c.breaker != nil {
		c.breaker.RecordFailure(source)
	}
}

// backoff sleeps with exponential backoff capped at maxDelay, respecting a
// Retry-After header when present.
func (c *Client) backoff(ctx context.Context, attempt int, resp *http.Response) {
	delay := c.baseDelay * time.Duration(1<<uint(attempt)) // 1s, 2s, 4s
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
				if delay > c.maxDelay {
					delay = c.maxDelay
				}
			}
		}
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
