package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/msw-projects/termine/internal/resolver"
	"github.com/msw-projects/termine/internal/responder"
	"github.com/msw-projects/termine/internal/storage"
	"github.com/msw-projects/termine/internal/trigger"
)

const (
	defaultCompanyLimit = 50
	maxCompanyLimit     = 500
)

// Resolver resolves an identifier to a company and its events.
type Resolver interface {
	Resolve(ctx context.Context, token string) resolver.Result
}

// CompanyLister lists cached companies.
type CompanyLister interface {
	ListCompanies(limit int) ([]storage.CompanySummary, error)
}

// Deps holds dependencies shared by the HTTP handler and the MCP server.
type Deps struct {
	Companies CompanyLister
	Resolver  Resolver
	Token     string // optional; when set, HTTP requests need a matching bearer token
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

type CompanyJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	NationalID string `json:"isin"`
	LocalCode  string `json:"wkn"`
	Ticker     string `json:"symbol,omitempty"`
	EventCount *int   `json:"event_count,omitempty"`
}

type EventJSON struct {
	Date      string    `json:"date"`
	Type      string    `json:"type"`
	Info      string    `json:"info"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type EventsResponse struct {
	Token    string      `json:"token"`
	Origin   string      `json:"origin"`
	Company  CompanyJSON `json:"company"`
	Events   []EventJSON `json:"events"`
	Markdown string      `json:"markdown"`
}

func companyJSON(c storage.Company) CompanyJSON {
	return CompanyJSON{
		ID:         c.ID,
		Name:       c.Name,
		NationalID: c.NationalID,
		LocalCode:  c.LocalCode,
		Ticker:     c.Ticker,
	}
}

// NewHandler returns the read-only query API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(requireToken(deps.Token))
		}
		r.Get("/companies", handleListCompanies(deps))
		r.Get("/events/{token}", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleListCompanies(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultCompanyLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxCompanyLimit)
		}

		companies, err := deps.Companies.ListCompanies(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list companies: %v", err)
			return
		}

		out := make([]CompanyJSON, len(companies))
		for i, c := range companies {
			out[i] = companyJSON(c.Company)
			count := c.EventCount
			out[i].EventCount = &count
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// parseToken accepts the same identifiers a comment trigger would.
func parseToken(raw string) (string, bool) {
	tokens := trigger.Detect("!termin " + raw)
	if len(tokens) != 1 || tokens[0] != strings.TrimPrefix(raw, "$") {
		return "", false
	}
	return tokens[0], true
}

func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := parseToken(chi.URLParam(r, "token"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid identifier %q", chi.URLParam(r, "token"))
			return
		}

		res := deps.Resolver.Resolve(r.Context(), token)
		switch res.Kind {
		case resolver.Found:
		case resolver.NotFound:
			httpError(w, http.StatusNotFound, "not_found_error", "no events found for %s", token)
			return
		case resolver.TransportFailure:
			deps.logger().Warn("event source unreachable", "token", token, "error", res.Err)
			httpError(w, http.StatusBadGateway, "api_error", "event source unavailable: %v", res.Err)
			return
		default:
			deps.logger().Error("resolving identifier", "token", token, "kind", res.Kind, "error", res.Err)
			httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", res.Kind, res.Err)
			return
		}

		resp := EventsResponse{
			Token:    token,
			Origin:   string(res.Origin),
			Company:  companyJSON(res.Company),
			Events:   make([]EventJSON, len(res.Events)),
			Markdown: responder.FormatCompany(res.Company, res.Events),
		}
		for i, e := range res.Events {
			resp.Events[i] = EventJSON{Date: e.Date, Type: e.Type, Info: e.Info, CreatedAt: e.CreatedAt}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
