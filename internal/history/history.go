// Package history persists selection runs to a local SQLite database so past
// winners stay inspectable after their artifacts are overwritten.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one recorded selection run.
type Entry struct {
	ID         int64
	RunAt      string
	Metric     string
	BestIter   string
	MeanScore  float64
	ReportPath string
	// Trigger names what started the run: "manual", "watch", or "schedule".
	Trigger string
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the history database, creating parent directories as
// needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS selections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_at TEXT NOT NULL DEFAULT (datetime('now')),
			metric TEXT NOT NULL,
			best_iter TEXT NOT NULL,
			mean_score REAL NOT NULL,
			report_path TEXT NOT NULL DEFAULT '',
			triggered_by TEXT NOT NULL DEFAULT 'manual'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_selections_run_at ON selections(run_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one selection run. An empty trigger is stored as "manual".
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trigger := strings.TrimSpace(e.Trigger)
	if trigger == "" {
		trigger = "manual"
	}
	_, err := s.db.Exec(`
		INSERT INTO selections (metric, best_iter, mean_score, report_path, triggered_by)
		VALUES (?, ?, ?, ?, ?)
	`, e.Metric, e.BestIter, e.MeanScore, e.ReportPath, trigger)
	if err != nil {
		return fmt.Errorf("append selection: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, run_at, metric, best_iter, mean_score, report_path, triggered_by
		FROM selections
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query selections: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunAt, &e.Metric, &e.BestIter, &e.MeanScore, &e.ReportPath, &e.Trigger); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selections: %w", err)
	}
	return result, nil
}

func (s *Store) Count() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM selections`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count selections: %w", err)
	}
	return n, nil
}
