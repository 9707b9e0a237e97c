package openalex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/papersources"
)

// Defaults applied to a zero Config.
const (
	DefaultBaseURL    = "https://api.openalex.org"
	DefaultRateLimit  = 10.0
	DefaultBurstSize  = 10
	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 30
	DefaultSort       = "cited_by_count:desc"

	// OpenAlex rejects per_page above this.
	maxPerPage = 200

	userAgent = "Helixir-ReviewPipeline/1.0"
)

// Config configures a Client. Zero fields take the package defaults.
type Config struct {
	BaseURL string

	// Email opts into the OpenAlex polite pool.
	Email string

	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Sort       string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize <= 0 {
		c.BurstSize = DefaultBurstSize
	}
	switch {
	case c.MaxResults <= 0:
		c.MaxResults = DefaultMaxResults
	case c.MaxResults > maxPerPage:
		c.MaxResults = maxPerPage
	}
	if c.Sort == "" {
		c.Sort = DefaultSort
	}
	return c
}

// Client is the OpenAlex discovery source.
type Client struct {
	cfg  Config
	http *papersources.HTTPClient
}

var _ papersources.Source = (*Client)(nil)

// New returns a Client with its own rate-limited HTTP client.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	ua := userAgent
	if cfg.Email != "" {
		ua = fmt.Sprintf("%s (mailto:%s)", userAgent, cfg.Email)
	}
	return NewWithHTTPClient(cfg, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    "openalex",
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: ua,
	}))
}

// NewWithHTTPClient returns a Client that sends requests through hc.
func NewWithHTTPClient(cfg Config, hc *papersources.HTTPClient) *Client {
	return &Client{cfg: cfg.withDefaults(), http: hc}
}

// Name implements papersources.Source.
func (c *Client) Name() string { return "OpenAlex" }

// Search returns open-access works about topic in the configured sort order.
// Works without an identifier are dropped and DiscoveryRank stays contiguous.
func (c *Client) Search(ctx context.Context, topic string) ([]domain.PaperCandidate, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, domain.NewValidationError("topic", "must not be empty")
	}

	endpoint, err := c.worksURL(topic)
	if err != nil {
		return nil, err
	}

	var page worksPage
	if err := c.http.GetJSON(ctx, endpoint, &page); err != nil {
		return nil, err
	}

	out := make([]domain.PaperCandidate, 0, len(page.Results))
	for i := range page.Results {
		cand, ok := page.Results[i].candidate()
		if !ok {
			continue
		}
		cand.DiscoveryRank = len(out)
		out = append(out, cand)
	}
	return out, nil
}

func (c *Client) worksURL(topic string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("openalex: invalid base URL %q: %w", c.cfg.BaseURL, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/works"

	q := url.Values{
		"search":   {topic},
		"filter":   {"has_abstract:true,is_oa:true"},
		"sort":     {c.cfg.Sort},
		"per_page": {strconv.Itoa(c.cfg.MaxResults)},
	}
	if c.cfg.Email != "" {
		q.Set("mailto", c.cfg.Email)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
