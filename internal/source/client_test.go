package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"
)

// newTestClient returns a Client against srv with pacing disabled.
func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{WithBaseURL(srv.URL + "/termine/termine_suchergebnis.asp"), WithMaxDelay(0), WithRateLimit(0)}
	return New(append(base, opts...)...)
}

func TestFetch_SendsQueryAndHeaders(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	body, err := c.Fetch(context.Background(), "US0378331005")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}

	if got.URL.Path != "/termine/termine_suchergebnis.asp" {
		t.Errorf("path = %q", got.URL.Path)
	}
	if q := got.URL.Query().Get(QueryParam); q != "US0378331005" {
		t.Errorf("%s = %q, want US0378331005", QueryParam, q)
	}
	if ref := got.Header.Get("Referer"); ref != DefaultReferer {
		t.Errorf("Referer = %q, want %q", ref, DefaultReferer)
	}
	if lang := got.Header.Get("Accept-Language"); lang != DefaultAcceptLanguage {
		t.Errorf("Accept-Language = %q, want %q", lang, DefaultAcceptLanguage)
	}
	if acc := got.Header.Get("Accept"); acc != DefaultAccept {
		t.Errorf("Accept = %q, want %q", acc, DefaultAccept)
	}
	if ua := got.Header.Get("User-Agent"); !slices.Contains(UserAgents, ua) {
		t.Errorf("User-Agent %q not in pool", ua)
	}
}

// TestFetch_RotatesUserAgent checks every request picks its own agent from the pool.
func TestFetch_RotatesUserAgent(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
	}))
	defer srv.Close()

	c := newTestClient(srv)
	i := 0
	c.pickAgent = func() string {
		ua := UserAgents[i%len(UserAgents)]
		i++
		return ua
	}

	for range 3 {
		if _, err := c.Fetch(context.Background(), "AAPL"); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	want := UserAgents[:3]
	if !slices.Equal(agents, want) {
		t.Errorf("agents = %v, want %v", agents, want)
	}
}

func TestFetch_WaitsRandomDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(srv, WithMaxDelay(5*time.Second))
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.randFloat = func() float64 { return 0.5 }

	if _, err := c.Fetch(context.Background(), "SAP"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("sleep called %d times, want 1", len(slept))
	}
	if slept[0] != 2500*time.Millisecond {
		t.Errorf("delay = %v, want 2.5s", slept[0])
	}
}

func TestFetch_DelayBelowMax(t *testing.T) {
	c := New()
	var slept time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return errors.New("stop")
	}
	c.randFloat = func() float64 { return 0.9999999 }

	c.Fetch(context.Background(), "SAP")
	if slept < 0 || slept >= DefaultMaxDelay {
		t.Errorf("delay = %v, want in [0, %v)", slept, DefaultMaxDelay)
	}
}

func TestFetch_CancelledDuringDelay(t *testing.T) {
	c := New(WithMaxDelay(time.Hour))
	c.randFloat = func() float64 { return 0.5 }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "SAP")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
}

func TestFetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Fetch(context.Background(), "SAP")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", te.StatusCode)
	}
	if te.Query != "SAP" {
		t.Errorf("Query = %q, want SAP", te.Query)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv, WithTimeout(50*time.Millisecond)).Fetch(context.Background(), "SAP")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want transport error", err)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv).Fetch(context.Background(), "SAP")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want transport error", err)
	}
}

// TestFetch_KeepsSessionCookies verifies cookies set by the site are sent back on the next request.
func TestFetch_KeepsSessionCookies(t *testing.T) {
	var second string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			return
		}
		if ck, err := r.Cookie("session"); err == nil {
			second = ck.Value
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for range 2 {
		if _, err := c.Fetch(context.Background(), "SAP"); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if second != "abc" {
		t.Errorf("session cookie on second request = %q, want abc", second)
	}
}
