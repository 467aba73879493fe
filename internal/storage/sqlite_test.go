package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// setClock pins the store's clock for the rest of the test.
func setClock(s *Store, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestDataSurvivesReopen verifies the cache is durable across process restarts.
func TestDataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s1.UpsertCompany(Company{Name: "Apple", NationalID: "US0378331005", LocalCode: "865985", Ticker: "AAPL"})
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}
	if err := s1.MarkResponded("c1"); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	c, err := s2.FindCompany("AAPL")
	if err != nil {
		t.Fatalf("FindCompany after reopen: %v", err)
	}
	if c.ID != id {
		t.Errorf("ID = %d, want %d", c.ID, id)
	}
	ok, err := s2.HasResponded("c1")
	if err != nil {
		t.Fatalf("HasResponded: %v", err)
	}
	if !ok {
		t.Error("HasResponded(c1) = false after reopen, want true")
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_company_local_code", "idx_company_ticker", "idx_event_company", "idx_event_created", "idx_responded_to_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestFindCompanyByEachKey(t *testing.T) {
	s := openTestStore(t)

	want := Company{Name: "SAP", NationalID: "DE0007164600", LocalCode: "716460", Ticker: "SAP"}
	id, err := s.UpsertCompany(want)
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}
	want.ID = id

	for _, token := range []string{"DE0007164600", "716460", "SAP"} {
		got, err := s.FindCompany(token)
		if err != nil {
			t.Fatalf("FindCompany(%q): %v", token, err)
		}
		if got != want {
			t.Errorf("FindCompany(%q) = %+v, want %+v", token, got, want)
		}
	}
}

func TestFindCompanyCaseSensitive(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertCompany(Company{Name: "Apple", NationalID: "US0378331005", LocalCode: "865985", Ticker: "AAPL"}); err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}

	if _, err := s.FindCompany("aapl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindCompany(aapl) error = %v, want ErrNotFound", err)
	}
}

func TestFindCompanyNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindCompany("NOPE")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestEmptyTickerNeverMatches verifies a company without a ticker is not found by an empty token.
func TestEmptyTickerNeverMatches(t *testing.T) {
	s := openTestStore(t)

	id, err := s.UpsertCompany(Company{Name: "Mittelstand AG", NationalID: "DE000A0BCDE1", LocalCode: "A0BCDE"})
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}

	if _, err := s.FindCompany(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindCompany(\"\") error = %v, want ErrNotFound", err)
	}

	got, err := s.FindCompany("A0BCDE")
	if err != nil {
		t.Fatalf("FindCompany: %v", err)
	}
	if got.ID != id || got.Ticker != "" {
		t.Errorf("got %+v, want id %d and empty ticker", got, id)
	}
}

// TestUpsertReplacesByNationalID upserts the same ISIN twice and expects one row with the latest fields.
func TestUpsertReplacesByNationalID(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.UpsertCompany(Company{Name: "Daimler", NationalID: "DE0007100000", LocalCode: "710000", Ticker: "DAI"})
	if err != nil {
		t.Fatalf("first UpsertCompany: %v", err)
	}
	id2, err := s.UpsertCompany(Company{Name: "Mercedes-Benz Group", NationalID: "DE0007100000", LocalCode: "710000", Ticker: "MBG"})
	if err != nil {
		t.Fatalf("second UpsertCompany: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert changed id: %d -> %d", id1, id2)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM company WHERE national_id = ?", "DE0007100000").Scan(&count); err != nil {
		t.Fatalf("counting companies: %v", err)
	}
	if count != 1 {
		t.Fatalf("company rows = %d, want 1", count)
	}

	got, err := s.FindCompany("DE0007100000")
	if err != nil {
		t.Fatalf("FindCompany: %v", err)
	}
	if got.Name != "Mercedes-Benz Group" {
		t.Errorf("Name = %q, want %q", got.Name, "Mercedes-Benz Group")
	}
	if got.Ticker != "MBG" {
		t.Errorf("Ticker = %q, want MBG", got.Ticker)
	}
	if _, err := s.FindCompany("DAI"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old ticker still resolves: %v", err)
	}
}

func TestUpsertRequiresNationalID(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertCompany(Company{Name: "Nameless", LocalCode: "123456"}); err == nil {
		t.Fatal("expected error for empty national id")
	}
}

func TestReplaceAndListEvents(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	setClock(s, now)

	id, err := s.UpsertCompany(Company{Name: "BASF", NationalID: "DE000BASF111", LocalCode: "BASF11"})
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}

	events := []Event{
		{Date: "25.04.2026", Type: "Hauptversammlung", Info: "Ordentliche HV"},
		{Date: "30.04.2026", Type: "Quartalszahlen", Info: "Q1 2026"},
	}
	stored, err := s.ReplaceEvents(id, events)
	if err != nil {
		t.Fatalf("ReplaceEvents: %v", err)
	}
	for i, e := range stored {
		if e.ID == 0 || e.CompanyID != id || !e.CreatedAt.Equal(now) {
			t.Errorf("stored[%d] = %+v, want id, company %d and time %v set", i, e, id, now)
		}
	}

	got, err := s.EventsFor(id)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	for i, e := range events {
		if got[i].Date != e.Date || got[i].Type != e.Type || got[i].Info != e.Info {
			t.Errorf("events[%d] = %+v, want %+v", i, got[i], e)
		}
		if got[i].CompanyID != id {
			t.Errorf("events[%d].CompanyID = %d, want %d", i, got[i].CompanyID, id)
		}
		if !got[i].CreatedAt.Equal(now) {
			t.Errorf("events[%d].CreatedAt = %v, want %v", i, got[i].CreatedAt, now)
		}
		if got[i].ID != stored[i].ID {
			t.Errorf("events[%d].ID = %d, want %d", i, got[i].ID, stored[i].ID)
		}
	}

	other, err := s.EventsFor(id + 100)
	if err != nil {
		t.Fatalf("EventsFor unknown: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unknown company has %d events, want 0", len(other))
	}
}

// TestReplaceEventsDropsPrevious refreshes a company twice, the second time
// through a different identifier, and checks each event is cached once.
func TestReplaceEventsDropsPrevious(t *testing.T) {
	s := openTestStore(t)
	apple := Company{Name: "Apple", NationalID: "US0378331005", LocalCode: "865985", Ticker: "AAPL"}
	events := []Event{
		{Date: "30.04.2026", Type: "Quartalszahlen", Info: "Q2 2026"},
		{Date: "24.02.2027", Type: "Hauptversammlung", Info: "Apple HV"},
	}

	for range 3 {
		id, err := s.UpsertCompany(apple)
		if err != nil {
			t.Fatalf("UpsertCompany: %v", err)
		}
		if _, err := s.ReplaceEvents(id, events); err != nil {
			t.Fatalf("ReplaceEvents: %v", err)
		}
	}

	c, err := s.FindCompany("AAPL")
	if err != nil {
		t.Fatalf("FindCompany: %v", err)
	}
	got, err := s.EventsFor(c.ID)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events after three refreshes, want %d", len(got), len(events))
	}

	// An empty refresh clears the company's events.
	if _, err := s.ReplaceEvents(c.ID, nil); err != nil {
		t.Fatalf("ReplaceEvents(nil): %v", err)
	}
	if got, _ := s.EventsFor(c.ID); len(got) != 0 {
		t.Errorf("got %d events after empty refresh, want 0", len(got))
	}
}

func TestListCompanies(t *testing.T) {
	s := openTestStore(t)

	a, _ := s.UpsertCompany(Company{Name: "Allianz", NationalID: "DE0008404005", LocalCode: "840400", Ticker: "ALV"})
	if _, err := s.UpsertCompany(Company{Name: "Zalando", NationalID: "DE000ZAL1111", LocalCode: "ZAL111"}); err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}
	if _, err := s.ReplaceEvents(a, []Event{{Date: "01.05.2026", Type: "HV"}}); err != nil {
		t.Fatalf("ReplaceEvents: %v", err)
	}

	list, err := s.ListCompanies(10)
	if err != nil {
		t.Fatalf("ListCompanies: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d companies, want 2", len(list))
	}
	if list[0].Name != "Allianz" || list[0].EventCount != 1 {
		t.Errorf("list[0] = %+v, want Allianz with 1 event", list[0])
	}
	if list[1].Name != "Zalando" || list[1].EventCount != 0 {
		t.Errorf("list[1] = %+v, want Zalando with 0 events", list[1])
	}
}

func TestMarkResponded(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.HasResponded("abc123")
	if err != nil {
		t.Fatalf("HasResponded: %v", err)
	}
	if ok {
		t.Fatal("HasResponded = true before marking")
	}

	if err := s.MarkResponded("abc123"); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	if err := s.MarkResponded("abc123"); err != nil {
		t.Fatalf("second MarkResponded: %v", err)
	}

	ok, err = s.HasResponded("abc123")
	if err != nil {
		t.Fatalf("HasResponded: %v", err)
	}
	if !ok {
		t.Error("HasResponded = false after marking")
	}

	if ok, _ := s.HasResponded("missing"); ok {
		t.Error("HasResponded(missing) = true")
	}
}

// TestEvictExpiredBoundary creates rows one second on either side of the
// retention boundary and checks only the older ones are removed.
func TestEvictExpiredBoundary(t *testing.T) {
	s := openTestStore(t)
	const retention = 7 * 24 * time.Hour
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	oldID, err := s.UpsertCompany(Company{Name: "Siemens", NationalID: "DE0007236101", LocalCode: "723610", Ticker: "SIE"})
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}
	id, err := s.UpsertCompany(Company{Name: "SAP", NationalID: "DE0007164600", LocalCode: "716460", Ticker: "SAP"})
	if err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}

	setClock(s, now.Add(-retention-time.Second))
	if _, err := s.ReplaceEvents(oldID, []Event{{Date: "old", Type: "HV"}}); err != nil {
		t.Fatalf("ReplaceEvents old: %v", err)
	}
	if err := s.MarkResponded("old-comment"); err != nil {
		t.Fatalf("MarkResponded old: %v", err)
	}

	setClock(s, now.Add(-retention+time.Second))
	if _, err := s.ReplaceEvents(id, []Event{{Date: "new", Type: "HV"}}); err != nil {
		t.Fatalf("ReplaceEvents new: %v", err)
	}
	if err := s.MarkResponded("new-comment"); err != nil {
		t.Fatalf("MarkResponded new: %v", err)
	}

	setClock(s, now)
	ev, err := s.EvictExpired(retention)
	if err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}
	if ev.Events != 1 || ev.Responses != 1 {
		t.Errorf("Evicted = %+v, want 1 event and 1 response", ev)
	}

	if events, _ := s.EventsFor(oldID); len(events) != 0 {
		t.Errorf("expired events remain: %+v", events)
	}
	events, err := s.EventsFor(id)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(events) != 1 || events[0].Date != "new" {
		t.Errorf("remaining events = %+v, want only the new one", events)
	}

	if ok, _ := s.HasResponded("old-comment"); ok {
		t.Error("old-comment still marked as responded")
	}
	if ok, _ := s.HasResponded("new-comment"); !ok {
		t.Error("new-comment no longer marked as responded")
	}

	// The company itself survives eviction.
	if _, err := s.FindCompany("SIE"); err != nil {
		t.Errorf("FindCompany after eviction: %v", err)
	}
}
