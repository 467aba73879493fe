// Package source fetches raw event search pages from the external
// financial-data site.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the event search endpoint.
	DefaultBaseURL = "https://www.finanzen.net/termine/termine_suchergebnis.asp"

	// QueryParam carries the raw identifier on the search request.
	QueryParam = "frmTermineSuche"

	DefaultReferer        = "https://www.finanzen.net/"
	DefaultAcceptLanguage = "de-de"
	DefaultAccept         = "text/html, text/plain, */*"

	// DefaultMaxDelay bounds the random pause taken before every request.
	DefaultMaxDelay = 5 * time.Second

	DefaultTimeout = 20 * time.Second

	maxBodySize = 5 << 20 // 5MB
)

// UserAgents is the pool a request's User-Agent is drawn from.
var UserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:77.0) Gecko/20100101 Firefox/77.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.97 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:77.0) Gecko/20100101 Firefox/77.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.97 Safari/537.36",
}

// TransportError reports a failed fetch: network error, timeout, or a non-2xx status.
type TransportError struct {
	Query      string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %q: unexpected status %d", e.Query, e.StatusCode)
	}
	return fmt.Sprintf("fetching %q: %v", e.Query, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client issues paced, browser-like search requests.
type Client struct {
	baseURL        string
	referer        string
	acceptLanguage string
	maxDelay       time.Duration
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *slog.Logger

	// sleep and randFloat are swapped out by tests.
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
	pickAgent func() string
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets a custom search endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client. Its Jar is kept as given.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each request including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxDelay sets the upper bound of the random pause before each request.
// Zero disables the pause.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.maxDelay = d
		}
	}
}

// WithReferer overrides the Referer header.
func WithReferer(referer string) Option {
	return func(c *Client) {
		c.referer = referer
	}
}

// WithAcceptLanguage overrides the Accept-Language header.
func WithAcceptLanguage(lang string) Option {
	return func(c *Client) {
		c.acceptLanguage = lang
	}
}

// WithRateLimit allows at most one request per interval, no bursts.
func WithRateLimit(interval time.Duration) Option {
	return func(c *Client) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client with a cookie session and the default politeness policy.
func New(opts ...Option) *Client {
	// publicsuffix keeps cookies scoped to the site rather than its TLD.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	c := &Client{
		baseURL:        DefaultBaseURL,
		referer:        DefaultReferer,
		acceptLanguage: DefaultAcceptLanguage,
		maxDelay:       DefaultMaxDelay,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: DefaultTimeout,
		},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		logger:    slog.Default(),
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
	c.pickAgent = func() string { return UserAgents[rand.IntN(len(UserAgents))] }

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch waits a random delay, then requests the search page for query and
// returns its body. Failures are returned as *TransportError.
func (c *Client) Fetch(ctx context.Context, query string) ([]byte, error) {
	delay := time.Duration(c.randFloat() * float64(c.maxDelay))
	c.logger.Debug("fetching events", "query", query, "delay", delay)

	if err := c.sleep(ctx, delay); err != nil {
		return nil, &TransportError{Query: query, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Query: query, Err: err}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	q := u.Query()
	q.Set(QueryParam, query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", DefaultAccept)
	req.Header.Set("User-Agent", c.pickAgent())
	req.Header.Set("Accept-Language", c.acceptLanguage)
	req.Header.Set("Referer", c.referer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &TransportError{Query: query, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Query: query, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug("fetched events page", "query", query, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
