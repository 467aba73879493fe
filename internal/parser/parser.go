// Package parser extracts a company record and its calendar events from an
// event search result page.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/msw-projects/termine/internal/storage"
)

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("no events found")

// NotFoundError means the page does not describe a tradable security with events.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return "no events found: " + e.Reason
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

const (
	ReasonNoSecurity = "no security matched the search"
	ReasonNotStock   = "page is not a stock page"
	ReasonNoTable    = "no events table"
	ReasonNoEvents   = "events table is empty"
)

// Result is what a successful parse yields. Company.ID and the events'
// CompanyID are zero; the caller assigns them when persisting.
type Result struct {
	Company storage.Company
	Events  []storage.Event
}

// Layout collects every assumption about the page structure.
type Layout struct {
	// IdentitySelector matches the copy-to-clipboard widgets holding the
	// security identifiers; LabelAttr names the identifier, ValueAttr holds it.
	IdentitySelector string
	LabelAttr        string
	ValueAttr        string

	NationalIDLabel string
	LocalCodeLabel  string
	TickerLabel     string

	TitleSelector string
	StockSuffix   string

	TableSelector string
	DateHeader    string
	TypeHeader    string
	InfoHeader    string
}

// DefaultLayout describes the finanzen.net event search result page.
func DefaultLayout() Layout {
	return Layout{
		IdentitySelector: ".icon-copy",
		LabelAttr:        "cptxt",
		ValueAttr:        "cpval",
		NationalIDLabel:  "isin",
		LocalCodeLabel:   "wkn",
		TickerLabel:      "symbol",
		TitleSelector:    "h2",
		StockSuffix:      "Aktie",
		TableSelector:    "table",
		DateHeader:       "Datum",
		TypeHeader:       "Terminart",
		InfoHeader:       "Info",
	}
}

// Parser parses pages laid out as described by its Layout.
type Parser struct {
	layout Layout
}

// New creates a Parser for the given layout.
func New(layout Layout) *Parser {
	return &Parser{layout: layout}
}

// Parse extracts the company and its events from markup. It returns a
// *NotFoundError when the identifiers are missing, the page title is not a
// stock title, or the events table yields no rows.
func (p *Parser) Parse(markup []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return Result{}, fmt.Errorf("reading markup: %w", err)
	}

	ids := p.identifiers(doc)
	isin, wkn := ids[p.layout.NationalIDLabel], ids[p.layout.LocalCodeLabel]
	if isin == "" || wkn == "" {
		return Result{}, &NotFoundError{Reason: ReasonNoSecurity}
	}

	title := p.title(doc)
	if !strings.HasSuffix(title, p.layout.StockSuffix) {
		return Result{}, &NotFoundError{Reason: ReasonNotStock}
	}

	table := p.eventsTable(doc)
	if table == nil {
		return Result{}, &NotFoundError{Reason: ReasonNoTable}
	}
	events := p.events(table)
	if len(events) == 0 {
		return Result{}, &NotFoundError{Reason: ReasonNoEvents}
	}

	return Result{
		Company: storage.Company{
			Name:       strings.TrimSpace(strings.TrimSuffix(title, p.layout.StockSuffix)),
			NationalID: isin,
			LocalCode:  wkn,
			Ticker:     ids[p.layout.TickerLabel],
		},
		Events: events,
	}, nil
}

// identifiers maps lower-cased identifier labels to their values.
func (p *Parser) identifiers(doc *goquery.Document) map[string]string {
	ids := make(map[string]string)
	doc.Find(p.layout.IdentitySelector).Each(func(_ int, s *goquery.Selection) {
		label, ok := s.Attr(p.layout.LabelAttr)
		if !ok {
			return
		}
		value, ok := s.Attr(p.layout.ValueAttr)
		if !ok {
			return
		}
		ids[strings.ToLower(strings.TrimSpace(label))] = strings.TrimSpace(value)
	})
	return ids
}

func (p *Parser) title(doc *goquery.Document) string {
	var title string
	doc.Find(p.layout.TitleSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = cellText(s)
		return title == ""
	})
	return title
}

// eventsTable returns the first table whose header row names at least one
// known column.
func (p *Parser) eventsTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find(p.layout.TableSelector).EachWithBreak(func(_ int, t *goquery.Selection) bool {
		for _, h := range headers(t) {
			if h == p.layout.DateHeader || h == p.layout.TypeHeader || h == p.layout.InfoHeader {
				found = t
				return false
			}
		}
		return true
	})
	return found
}

func headers(table *goquery.Selection) []string {
	cells := table.Find("thead tr").First().Find("th")
	if cells.Length() == 0 {
		cells = table.Find("tr").First().Find("th")
	}
	cols := make([]string, 0, cells.Length())
	cells.Each(func(_ int, s *goquery.Selection) {
		cols = append(cols, cellText(s))
	})
	return cols
}

// events zips every body row against the header names by position and keeps
// the date, type and info columns.
func (p *Parser) events(table *goquery.Selection) []storage.Event {
	cols := headers(table)
	var events []storage.Event
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		zipped := make(map[string]string, len(cols))
		cells.Each(func(i int, s *goquery.Selection) {
			if i < len(cols) {
				zipped[cols[i]] = cellText(s)
			}
		})
		events = append(events, storage.Event{
			Date: zipped[p.layout.DateHeader],
			Type: zipped[p.layout.TypeHeader],
			Info: zipped[p.layout.InfoHeader],
		})
	})
	return events
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
