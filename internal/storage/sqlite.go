package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database caching companies, their events, and the
// comments that have already been answered.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "termine.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection serializes every writer, so the company upsert never
	// races with a concurrent reader of the same rows.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// --- Companies ---

// FindCompany returns the company whose ISIN, WKN or ticker equals token exactly.
func (s *Store) FindCompany(token string) (Company, error) {
	var c Company
	var ticker sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, national_id, local_code, ticker
		FROM company
		WHERE national_id = ? OR local_code = ? OR ticker = ?
		ORDER BY id ASC LIMIT 1`, token, token, token,
	).Scan(&c.ID, &c.Name, &c.NationalID, &c.LocalCode, &ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, err
	}
	c.Ticker = ticker.String
	return c, nil
}

// UpsertCompany inserts c or, when a row with the same national ID exists,
// rewrites its name, local code and ticker in the same statement. It returns
// the row id.
func (s *Store) UpsertCompany(c Company) (int64, error) {
	if c.NationalID == "" {
		return 0, fmt.Errorf("upserting company %q: national id is required", c.Name)
	}
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO company (name, national_id, local_code, ticker)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(national_id) DO UPDATE SET
			name = excluded.name,
			local_code = excluded.local_code,
			ticker = excluded.ticker
		RETURNING id`,
		c.Name, c.NationalID, c.LocalCode, nullIfEmpty(c.Ticker),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting company %s: %w", c.NationalID, err)
	}
	return id, nil
}

// ListCompanies returns cached companies ordered by name with their event counts.
func (s *Store) ListCompanies(limit int) ([]CompanySummary, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.name, c.national_id, c.local_code, c.ticker, COUNT(e.id)
		FROM company c
		LEFT JOIN event e ON e.company_id = c.id
		GROUP BY c.id
		ORDER BY c.name ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CompanySummary
	for rows.Next() {
		var cs CompanySummary
		var ticker sql.NullString
		if err := rows.Scan(&cs.ID, &cs.Name, &cs.NationalID, &cs.LocalCode, &ticker, &cs.EventCount); err != nil {
			return nil, err
		}
		cs.Ticker = ticker.String
		results = append(results, cs)
	}
	return results, rows.Err()
}

// --- Events ---

// ReplaceEvents swaps the cached events of a company for events in one
// transaction and returns them with their ids and creation time set.
func (s *Store) ReplaceEvents(companyID int64, events []Event) ([]Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning event replacement: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM event WHERE company_id = ?", companyID); err != nil {
		return nil, fmt.Errorf("deleting events of company %d: %w", companyID, err)
	}

	now := s.now().UTC().Truncate(time.Second)
	stamp := now.Format(time.RFC3339)
	out := make([]Event, len(events))
	for i, e := range events {
		res, err := tx.Exec(`
			INSERT INTO event (company_id, date, type, info, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			companyID, e.Date, e.Type, e.Info, stamp,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting event for company %d: %w", companyID, err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		e.CompanyID = companyID
		e.CreatedAt = now
		out[i] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing events of company %d: %w", companyID, err)
	}
	return out, nil
}

// EventsFor returns the cached events of a company in insertion order.
func (s *Store) EventsFor(companyID int64) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, company_id, date, type, info, created_at
		FROM event WHERE company_id = ? ORDER BY id ASC`, companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Date, &e.Type, &e.Info, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Responses ---

func (s *Store) HasResponded(commentID string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM responded_to WHERE comment_id = ?", commentID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkResponded records commentID as answered. Marking twice is a no-op.
func (s *Store) MarkResponded(commentID string) error {
	_, err := s.db.Exec(`
		INSERT INTO responded_to (comment_id, created_at) VALUES (?, ?)
		ON CONFLICT(comment_id) DO NOTHING`,
		commentID, s.timestamp(),
	)
	return err
}

// --- Eviction ---

// EvictExpired deletes events and response markers created at or before
// now minus retention. Companies are kept; a company without events is
// re-fetched on its next lookup.
func (s *Store) EvictExpired(retention time.Duration) (Evicted, error) {
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return Evicted{}, fmt.Errorf("beginning eviction transaction: %w", err)
	}
	defer tx.Rollback()

	var ev Evicted
	res, err := tx.Exec("DELETE FROM responded_to WHERE created_at <= ?", cutoff)
	if err != nil {
		return Evicted{}, fmt.Errorf("evicting responses: %w", err)
	}
	if ev.Responses, err = res.RowsAffected(); err != nil {
		return Evicted{}, err
	}

	res, err = tx.Exec("DELETE FROM event WHERE created_at <= ?", cutoff)
	if err != nil {
		return Evicted{}, fmt.Errorf("evicting events: %w", err)
	}
	if ev.Events, err = res.RowsAffected(); err != nil {
		return Evicted{}, err
	}

	if err := tx.Commit(); err != nil {
		return Evicted{}, fmt.Errorf("committing eviction: %w", err)
	}
	return ev, nil
}
