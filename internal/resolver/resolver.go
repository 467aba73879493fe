// Package resolver turns a user-supplied identifier into a company and its
// upcoming events, reading through the local cache to the event source.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/msw-projects/termine/internal/parser"
	"github.com/msw-projects/termine/internal/source"
	"github.com/msw-projects/termine/internal/storage"
)

// Store is the subset of the cache the resolver reads and writes.
type Store interface {
	FindCompany(token string) (storage.Company, error)
	EventsFor(companyID int64) ([]storage.Event, error)
	UpsertCompany(c storage.Company) (int64, error)
	ReplaceEvents(companyID int64, events []storage.Event) ([]storage.Event, error)
}

// Fetcher retrieves the raw search page for an identifier.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]byte, error)
}

// Parser extracts company data from a search page.
type Parser interface {
	Parse(markup []byte) (parser.Result, error)
}

// Kind classifies the outcome of a resolution.
type Kind int

const (
	Found Kind = iota
	NotFound
	TransportFailure
	ParseFailure
	StoreFailure
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case TransportFailure:
		return "transport_failure"
	case ParseFailure:
		return "parse_failure"
	case StoreFailure:
		return "store_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Origin tells where a Found result's data came from.
type Origin string

const (
	FromCache  Origin = "cache"
	FromSource Origin = "source"
)

// Result is the outcome of resolving one token. Company and Events are set
// only when Kind is Found; Err is set for every other kind.
type Result struct {
	Token   string
	Kind    Kind
	Origin  Origin
	Company storage.Company
	Events  []storage.Event
	Err     error
}

// OK reports whether the token resolved to a company with events.
func (r Result) OK() bool { return r.Kind == Found }

// StoreError wraps a persistence failure met while resolving a token.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Resolver reads through the cache to the event source.
type Resolver struct {
	store   Store
	fetcher Fetcher
	parser  Parser
	logger  *slog.Logger
}

// New creates a Resolver. A nil logger falls back to slog.Default().
func New(store Store, fetcher Fetcher, p Parser, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, fetcher: fetcher, parser: p, logger: logger}
}

// Resolve returns the cached events for token when at least one exists;
// otherwise it fetches and parses the source page, stores the result, and
// returns the parsed data. It never retries and caches nothing on failure.
func (r *Resolver) Resolve(ctx context.Context, token string) Result {
	company, err := r.store.FindCompany(token)
	switch {
	case err == nil:
		events, err := r.store.EventsFor(company.ID)
		if err != nil {
			return failure(token, StoreFailure, &StoreError{Op: "loading events", Err: err})
		}
		if len(events) > 0 {
			r.logger.Debug("cache hit", "token", token, "company", company.Name, "events", len(events))
			return Result{Token: token, Kind: Found, Origin: FromCache, Company: company, Events: events}
		}
		r.logger.Debug("cached company has no events, refreshing", "token", token, "company", company.Name)
	case errors.Is(err, storage.ErrNotFound):
		r.logger.Debug("cache miss", "token", token)
	default:
		return failure(token, StoreFailure, &StoreError{Op: "finding company", Err: err})
	}

	return r.refresh(ctx, token)
}

func (r *Resolver) refresh(ctx context.Context, token string) Result {
	markup, err := r.fetcher.Fetch(ctx, token)
	if err != nil {
		return failure(token, TransportFailure, err)
	}

	parsed, err := r.parser.Parse(markup)
	if errors.Is(err, parser.ErrNotFound) {
		return failure(token, NotFound, err)
	}
	if err != nil {
		return failure(token, ParseFailure, err)
	}

	id, err := r.store.UpsertCompany(parsed.Company)
	if err != nil {
		return failure(token, StoreFailure, &StoreError{Op: "saving company", Err: err})
	}
	parsed.Company.ID = id

	// The fresh page is the whole truth for the company: events cached under
	// another identifier of the same ISIN are dropped.
	events, err := r.store.ReplaceEvents(id, parsed.Events)
	if err != nil {
		return failure(token, StoreFailure, &StoreError{Op: "saving events", Err: err})
	}

	r.logger.Info("fetched events", "token", token, "company", parsed.Company.Name, "isin", parsed.Company.NationalID, "events", len(events))
	return Result{Token: token, Kind: Found, Origin: FromSource, Company: parsed.Company, Events: events}
}

func failure(token string, kind Kind, err error) Result {
	return Result{Token: token, Kind: kind, Err: err}
}

// ResolveAll resolves tokens one after another. A failing token does not
// stop the others.
func (r *Resolver) ResolveAll(ctx context.Context, tokens []string) []Result {
	results := make([]Result, 0, len(tokens))
	for _, tok := range tokens {
		results = append(results, r.Resolve(ctx, tok))
	}
	return results
}

var _ Fetcher = (*source.Client)(nil)
var _ Parser = (*parser.Parser)(nil)
var _ Store = (*storage.Store)(nil)
