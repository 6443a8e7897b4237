package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"testloom/internal/logging"
)

// Status is the maintenance verdict for one locator.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusStale   Status = "stale"
	StatusBroken  Status = "broken"
)

// ValidStatus reports whether s is a known maintenance status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusHealthy, StatusStale, StatusBroken:
		return true
	}
	return false
}

// ErrNotTracked reports a rekey of a locator that has no status row.
var ErrNotTracked = errors.New("locator has no maintenance status")

// Record is one inventory entry joined with its maintenance status.
// Locators never marked report StatusHealthy.
type Record struct {
	Entry
	Status Status `json:"status"`
	Note   string `json:"note,omitempty"`
}

// Store persists locator usage and maintenance status in sqlite. Status
// rows are keyed (strategyType, locatorText) independently of any bundle,
// so a status survives spec regeneration; surviving a locator text edit
// takes an explicit Rekey.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates or opens the index database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	-- Per-test locator usage, rebuilt from bundle data
	CREATE TABLE IF NOT EXISTS locator_usage (
		strategy_type TEXT NOT NULL,
		locator_text  TEXT NOT NULL,
		slug          TEXT NOT NULL,
		usage_count   INTEGER NOT NULL DEFAULT 0,
		indexed_at    DATETIME NOT NULL,
		PRIMARY KEY (strategy_type, locator_text, slug)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_slug ON locator_usage(slug);

	-- Maintenance status, independent of bundles
	CREATE TABLE IF NOT EXISTS maintenance_status (
		strategy_type TEXT NOT NULL,
		locator_text  TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'healthy',
		note          TEXT,
		updated_at    DATETIME NOT NULL,
		PRIMARY KEY (strategy_type, locator_text)
	);
	CREATE INDEX IF NOT EXISTS idx_status_state ON maintenance_status(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ReplaceAll swaps the whole usage inventory for the given rows.
func (s *Store) ReplaceAll(usages []Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace usage: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM locator_usage`); err != nil {
		return fmt.Errorf("replace usage: %w", err)
	}
	if err := insertUsages(tx, usages); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSlug swaps the usage rows of one bundle, as generation does after
// writing a bundle. Rows for other slugs in the input are ignored.
func (s *Store) ReplaceSlug(slug string, usages []Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scoped := make([]Usage, 0, len(usages))
	for _, u := range usages {
		if u.Slug == slug {
			scoped = append(scoped, u)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace usage for %s: %w", slug, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM locator_usage WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("replace usage for %s: %w", slug, err)
	}
	if err := insertUsages(tx, scoped); err != nil {
		return err
	}
	return tx.Commit()
}

func insertUsages(tx *sql.Tx, usages []Usage) error {
	stmt, err := tx.Prepare(`
		INSERT INTO locator_usage (strategy_type, locator_text, slug, usage_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(strategy_type, locator_text, slug) DO UPDATE SET
			usage_count = excluded.usage_count,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range usages {
		if u.StrategyType == "" || u.Locator == "" || u.Slug == "" {
			continue
		}
		if _, err := stmt.Exec(u.StrategyType, u.Locator, u.Slug, u.Count, now); err != nil {
			return fmt.Errorf("insert usage %s:%s: %w", u.StrategyType, u.Locator, err)
		}
	}
	return nil
}

// Records returns the aggregated inventory joined with maintenance status,
// most used first.
func (s *Store) Records() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT strategy_type, locator_text, slug, usage_count
		FROM locator_usage
		ORDER BY strategy_type, locator_text, slug
	`)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	defer rows.Close()

	var usages []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.StrategyType, &u.Locator, &u.Slug, &u.Count); err != nil {
			continue
		}
		usages = append(usages, u)
	}

	statusRows, err := s.db.Query(`SELECT strategy_type, locator_text, status, note FROM maintenance_status`)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	defer statusRows.Close()

	type statusInfo struct {
		status Status
		note   string
	}
	statuses := map[[2]string]statusInfo{}
	for statusRows.Next() {
		var strategyType, locatorText, status string
		var note sql.NullString
		if err := statusRows.Scan(&strategyType, &locatorText, &status, &note); err != nil {
			continue
		}
		statuses[[2]string{strategyType, locatorText}] = statusInfo{Status(status), note.String}
	}

	entries := Aggregate(usages)
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := Record{Entry: e, Status: StatusHealthy}
		if info, ok := statuses[[2]string{e.StrategyType, e.Locator}]; ok {
			rec.Status = info.status
			rec.Note = info.note
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetStatus upserts the maintenance status for one locator.
func (s *Store) SetStatus(strategyType, locatorText string, status Status, note string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("unknown maintenance status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO maintenance_status (strategy_type, locator_text, status, note, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(strategy_type, locator_text) DO UPDATE SET
			status = excluded.status,
			note = excluded.note,
			updated_at = excluded.updated_at
	`, strategyType, locatorText, string(status), note, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set status %s:%s: %w", strategyType, locatorText, err)
	}

	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditStatusSet,
		Target:    strategyType + ":" + locatorText,
		Action:    string(status),
		Success:   true,
		Message:   fmt.Sprintf("Maintenance status set: %s:%s -> %s", strategyType, locatorText, status),
	})
	return nil
}

// StatusFor returns the status and note for one locator. Untracked locators
// report StatusHealthy.
func (s *Store) StatusFor(strategyType, locatorText string) (Status, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status string
	var note sql.NullString
	err := s.db.QueryRow(`
		SELECT status, note FROM maintenance_status
		WHERE strategy_type = ? AND locator_text = ?
	`, strategyType, locatorText).Scan(&status, &note)

	if err == sql.ErrNoRows {
		return StatusHealthy, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("status %s:%s: %w", strategyType, locatorText, err)
	}
	return Status(status), note.String, nil
}

// Rekey moves a status row to a new locator text after a locator edit, so
// the status survives the edit. Rekeying onto a locator that already has a
// status fails; resolve the collision first.
func (s *Store) Rekey(strategyType, oldText, newText string) error {
	if oldText == newText {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE maintenance_status SET locator_text = ?, updated_at = ?
		WHERE strategy_type = ? AND locator_text = ?
	`, newText, time.Now().UTC(), strategyType, oldText)
	if err != nil {
		logging.Audit().StatusRekey(strategyType+":"+oldText, strategyType+":"+newText, false)
		return fmt.Errorf("rekey status %s:%s: %w", strategyType, oldText, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("rekey status %s:%s: %w", strategyType, oldText, ErrNotTracked)
	}
	logging.Audit().StatusRekey(strategyType+":"+oldText, strategyType+":"+newText, true)
	return nil
}

// MarkBundleStale marks every locator used by one bundle as stale, after an
// external edit to its spec. Returns how many locators were marked.
func (s *Store) MarkBundleStale(slug string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO maintenance_status (strategy_type, locator_text, status, note, updated_at)
		SELECT strategy_type, locator_text, ?, ?, ?
		FROM locator_usage WHERE slug = ?
		ON CONFLICT(strategy_type, locator_text) DO UPDATE SET
			status = excluded.status,
			note = excluded.note,
			updated_at = excluded.updated_at
	`, string(StatusStale), "spec edited outside the tool: "+slug, time.Now().UTC(), slug)
	if err != nil {
		return 0, fmt.Errorf("mark %s stale: %w", slug, err)
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		logging.Index("marked %d locators stale after external edit to %s", affected, slug)
	}
	return int(affected), nil
}
