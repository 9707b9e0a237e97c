package papersources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorBody     = 4 << 10
)

// HTTPClientConfig configures an HTTPClient. Zero fields take defaults.
type HTTPClientConfig struct {
	Source    string // names the upstream API in errors
	Timeout   time.Duration
	RateLimit float64 // requests per second
	BurstSize int
	UserAgent string

	// APIKey is sent in APIKeyHeader when both are set.
	APIKey       string
	APIKeyHeader string
}

func (c HTTPClientConfig) withDefaults() HTTPClientConfig {
	if c.Source == "" {
		c.Source = "papersource"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "ReviewPipeline/1.0"
	}
	return c
}

// HTTPClient is a rate-limited JSON GET client shared by the paper sources.
// Each call is one attempt; retry policy lives with the caller.
type HTTPClient struct {
	cfg   HTTPClientConfig
	http  *http.Client
	limit *rate.Limiter
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg = cfg.withDefaults()
	return &HTTPClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		limit: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
	}
}

func (c *HTTPClient) UserAgent() string { return c.cfg.UserAgent }

// GetJSON fetches rawURL and decodes a 200 body into out. Throttling maps to
// *domain.RateLimitError; other statuses and transport failures map to
// *domain.ExternalAPIError, with status 0 when nothing came back.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limit.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", c.cfg.Source, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.cfg.Source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIKey != "" && c.cfg.APIKeyHeader != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewExternalAPIError(c.cfg.Source, 0, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.cfg.Source, err)
	}
	return nil
}

func (c *HTTPClient) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return domain.NewRateLimitError(c.cfg.Source, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.NewExternalAPIError(c.cfg.Source, resp.StatusCode, strings.TrimSpace(string(body)), nil)
}

// ParseRetryAfter accepts delay-seconds or an HTTP date. Absent, past and
// malformed values give zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	return max(at.Sub(now), 0)
}
