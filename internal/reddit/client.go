// Package reddit is a minimal Reddit API client: a polling comment stream
// over a set of subreddits and comment replies.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultTokenURL     = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIBaseURL   = "https://oauth.reddit.com"
	DefaultPollInterval = 5 * time.Second

	// Reddit allows 60 requests per minute for OAuth clients.
	defaultRequestsPerMinute = 60

	listingLimit = 100
	seenCapacity = 1000
	maxBodySize  = 2 << 20 // 2MB
)

// Config holds the script-app credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	TokenURL     string // defaults to DefaultTokenURL
	APIBaseURL   string // defaults to DefaultAPIBaseURL
	PollInterval time.Duration
}

// Client talks to the Reddit API on behalf of one account.
type Client struct {
	apiBase    string
	username   string
	httpClient *http.Client
	limiter    *rate.Limiter
	poll       time.Duration
	logger     *slog.Logger
}

// New creates a Client. Access tokens are obtained lazily with the password
// grant and renewed when they expire.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Reddit rejects requests without a descriptive User-Agent, token
	// requests included.
	base := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &userAgentTransport{agent: cfg.UserAgent, next: http.DefaultTransport},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	src := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      ctx,
		config:   oc,
		username: cfg.Username,
		password: cfg.Password,
	})

	return &Client{
		apiBase:    strings.TrimRight(cfg.APIBaseURL, "/"),
		username:   cfg.Username,
		httpClient: oauth2.NewClient(ctx, src),
		limiter:    rate.NewLimiter(rate.Every(time.Minute/defaultRequestsPerMinute), 5),
		poll:       cfg.PollInterval,
		logger:     logger,
	}
}

// passwordTokenSource runs the password grant every time a token is needed.
// Reddit issues no refresh tokens for this grant.
type passwordTokenSource struct {
	ctx      context.Context
	config   *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.config.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("requesting access token: %w", err)
	}
	return tok, nil
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}

// Comment is a comment seen on the stream. It satisfies responder.Comment.
type Comment struct {
	client    *Client
	id        string
	body      string
	Author    string
	Subreddit string
	Created   time.Time
}

func (c *Comment) ID() string   { return c.id }
func (c *Comment) Body() string { return c.body }

// Reply posts text as a reply to the comment.
func (c *Comment) Reply(ctx context.Context, text string) error {
	return c.client.Reply(ctx, c.id, text)
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				ID         string  `json:"id"`
				Body       string  `json:"body"`
				Author     string  `json:"author"`
				Subreddit  string  `json:"subreddit"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// NewComments returns the latest comments of the given subreddits, oldest first.
func (c *Client) NewComments(ctx context.Context, subreddits []string) ([]*Comment, error) {
	path := fmt.Sprintf("/r/%s/comments?limit=%d&raw_json=1", strings.Join(subreddits, "+"), listingLimit)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var l listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&l); err != nil {
		return nil, fmt.Errorf("decoding comment listing: %w", err)
	}

	comments := make([]*Comment, 0, len(l.Data.Children))
	for i := len(l.Data.Children) - 1; i >= 0; i-- {
		child := l.Data.Children[i]
		if child.Kind != "t1" {
			continue
		}
		d := child.Data
		comments = append(comments, &Comment{
			client:    c,
			id:        d.ID,
			body:      d.Body,
			Author:    d.Author,
			Subreddit: d.Subreddit,
			Created:   time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
	}
	return comments, nil
}

// StreamComments polls the subreddits and calls fn once for every comment
// not seen before, oldest first. Comments written by the client's own
// account are skipped. It returns nil when ctx is cancelled, and the first
// error from the API or from fn otherwise.
func (c *Client) StreamComments(ctx context.Context, subreddits []string, fn func(context.Context, *Comment) error) error {
	seen := newSeenSet(seenCapacity)
	c.logger.Info("listening for comments", "subreddits", strings.Join(subreddits, "+"))

	for {
		comments, err := c.NewComments(ctx, subreddits)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, cm := range comments {
			if !seen.add(cm.id) {
				continue
			}
			if strings.EqualFold(cm.Author, c.username) {
				continue
			}
			if err := fn(ctx, cm); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.poll):
		}
	}
}

type commentResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

// Reply posts text as a reply to the comment with the given id (without
// the t1_ prefix).
func (c *Client) Reply(ctx context.Context, commentID, text string) error {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", "t1_"+commentID)
	form.Set("text", text)

	resp, err := c.do(ctx, http.MethodPost, "/api/comment", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var cr commentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&cr); err != nil {
		return fmt.Errorf("decoding reply response: %w", err)
	}
	if len(cr.JSON.Errors) > 0 {
		return fmt.Errorf("reply to %s rejected: %v", commentID, cr.JSON.Errors)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// seenSet remembers the most recent ids up to a fixed capacity.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, capacity), order: make([]string, 0, capacity)}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) < cap(s.order) {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.next])
		s.order[s.next] = id
		s.next = (s.next + 1) % len(s.order)
	}
	s.ids[id] = struct{}{}
	return true
}
