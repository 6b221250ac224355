// Package api is the HTTP client for the Upstream REST API.
//
// A Client authenticates with username and password, keeps its bearer token
// fresh, and submits CSV uploads to the ingestion endpoint. It implements
// core.Ingestor, so it can be handed straight to core.NewUploader.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/upstream/internal/config"
	"github.com/JonMunkholm/upstream/internal/core"
)

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 30 * time.Second

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL  string
	Username string
	Password string

	Timeout   time.Duration // Per request (default 30s)
	RateLimit float64       // Requests per second, 0 disables throttling
	RateBurst int           // Burst size when RateLimit is set (default 1)

	// HTTPClient is used for every exchange. A nil Transport falls back to
	// http.DefaultTransport at request time.
	HTTPClient *http.Client
}

// OptionsFromConfig maps the upstream config section onto client Options.
func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	return Options{
		BaseURL:   cfg.BaseURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
}

// Client talks to one Upstream deployment. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter // nil when unthrottled

	src    *loginSource
	authMu sync.Mutex
	tokens oauth2.TokenSource
}

var _ core.Ingestor = (*Client)(nil)

// New creates a Client. No request is made until the first call.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api: base URL must be an absolute http(s) URL, got %q", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	c := &Client{
		baseURL:  u,
		username: opts.Username,
		password: opts.Password,
		timeout:  opts.Timeout,
		http:     hc,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}

	c.src = &loginSource{c: c}
	c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, c.src, tokenEarlyExpiry)

	return c, nil
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
