// Package httpclient is the shared outbound HTTP layer for remote
// providers: rate-limit admission, conditional requests with ETag reuse,
// retry with backoff, and mapping of transport failures onto the provider
// error taxonomy.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/ratelimit"
	"github.com/orchestr8/resourcehub/internal/resilience"
)

const defaultUserAgent = "resourcehub/1.0"

// Config describes one remote provider's HTTP behavior.
type Config struct {
	// Provider labels errors and log lines.
	Provider string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// AuthHeader is the full Authorization value, e.g. "Bearer <token>".
	// Empty sends no Authorization header.
	AuthHeader string
	// PerMinute and PerHour bound outbound request rates. Both zero
	// disables rate limiting; one zero is derived from the other.
	PerMinute int
	PerHour   int
	// Retry governs transient-failure retries. Zero attempts means no
	// retries beyond the first try.
	Retry resilience.RetryPolicy
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit; zero disables the breaker. BreakerCooldown is how long the
	// circuit stays open before a trial call; zero means 30 seconds.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type etagEntry struct {
	etag string
	body []byte
}

// Client issues rate-limited, retried GETs on behalf of one provider. All
// methods are safe for concurrent use.
type Client struct {
	provider   string
	userAgent  string
	authHeader string
	httpClient *http.Client
	limiter    *ratelimit.DualBucket
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker

	mu    sync.Mutex
	etags map[string]etagEntry
}

// New creates a client from the config.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	var limiter *ratelimit.DualBucket
	if cfg.PerMinute > 0 || cfg.PerHour > 0 {
		perMinute, perHour := cfg.PerMinute, cfg.PerHour
		if perMinute <= 0 {
			perMinute = perHour
		}
		if perHour <= 0 {
			perHour = perMinute * 60
		}
		limiter = ratelimit.New(perMinute, perHour)
	}
	var breaker *resilience.Breaker
	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		breaker = resilience.NewBreaker(cfg.BreakerThreshold, cooldown)
	}
	return &Client{
		provider:   cfg.Provider,
		userAgent:  ua,
		authHeader: cfg.AuthHeader,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		retry:      cfg.Retry,
		breaker:    breaker,
		etags:      make(map[string]etagEntry),
	}
}

// RateLimit exposes the limiter for snapshot reporting; nil when rate
// limiting is disabled.
func (c *Client) RateLimit() *ratelimit.DualBucket {
	return c.limiter
}

// Get fetches a URL. A 304 answer returns the previously cached body for
// that URL.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var result []byte
	attempt := func() error {
		data, err := c.do(ctx, url)
		if err != nil {
			return err
		}
		result = data
		return nil
	}

	call := attempt
	if c.breaker != nil {
		call = func() error { return c.breaker.Execute(attempt) }
	}

	if err := resilience.Retry(ctx, c.retry, retryable, call); err != nil {
		return nil, err
	}
	return result, nil
}

// retryable excludes open-circuit rejections from the retry loop; the
// breaker will not admit a call until its cooldown elapses anyway.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return resource.Retryable(err)
}

// GetJSON fetches a URL and unmarshals the response body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	data, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return resource.WrapError(resource.KindProviderError, c.provider, err, "parse response from %s", url)
	}
	return nil
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	// Admission runs per attempt: every request on the wire consumes a
	// token, retries included.
	if c.limiter != nil {
		if admitted, retryAfter := c.limiter.Allow(); !admitted {
			return nil, resource.RateLimitError(c.provider, retryAfter)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resource.WrapError(resource.KindProviderError, c.provider, err, "create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	c.mu.Lock()
	cached, hasCached := c.etags[url]
	c.mu.Unlock()
	if hasCached && cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resource.WrapError(resource.KindUnavailable, c.provider, err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if etag := resp.Header.Get("ETag"); etag != "" {
			c.mu.Lock()
			c.etags[url] = etagEntry{etag: etag, body: body}
			c.mu.Unlock()
		}
		return body, nil
	case resp.StatusCode == http.StatusNotModified:
		if hasCached {
			return cached.body, nil
		}
		return nil, resource.NewError(resource.KindProviderError, c.provider, "304 without cached body for %s", url)
	case resp.StatusCode == http.StatusNotFound:
		return nil, resource.NewError(resource.KindNotFound, c.provider, "not found: %s", url)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resource.RateLimitError(c.provider, retryAfterHint(resp))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, resource.NewError(resource.KindAuthFailed, c.provider, "auth failed (%d)", resp.StatusCode)
	default:
		return nil, resource.NewError(resource.KindProviderError, c.provider, "unexpected status %d: %s", resp.StatusCode, truncate(body))
	}
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return resource.WrapError(resource.KindTimeout, c.provider, err, "request timed out")
	}
	return resource.WrapError(resource.KindUnavailable, c.provider, err, "request failed")
}

// retryAfterHint reads the Retry-After header in seconds form, defaulting
// to a minute.
func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return fmt.Sprintf("%s... (%d bytes)", body[:max], len(body))
	}
	return string(body)
}
