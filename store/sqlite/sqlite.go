/*
Package sqlite provides the SQLite-backed store of the development backend.

PURPOSE:
  Persists everything the issue and receipt screens talk to: the
  materials catalog, inventory cards (lots), withdrawal requests and
  their approval state, issue documents and receipts.

KEY TABLES:
  units, departments:     Reference data
  materials:              Catalog with default manufacturer/country
  inventory_cards:        One row per lot (or per non-lot stock batch);
                          lot_number '' marks non-lot stock
  issue_requests(+lines): Withdrawal requests, pending → approved → issued
  issues(+lines):         Issue documents, idempotency_key UNIQUE
  receipts(+lines):       Receipts, idempotency_key UNIQUE
  stock_movements:        Append-only ledger of card quantity changes

QUANTITIES:
  Stored as TEXT decimal strings and computed with shopspring/decimal,
  never as REAL.

STOCK RULES:
  - A material is lot-tracked when it has at least one usable lot card
  - A card is usable when active, not past its expiry date, and > 0
  - Issuing from a lot decrements that card; issuing without a lot
    draws first-expiry-first-out across the non-lot cards

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every caller. Every write that spans
  tables runs in one SQL transaction.

USAGE:
  store, err := sqlite.New("./data/medventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - catalog.go:  Materials, units, stock lookup, search
  - requests.go: Withdrawal requests and approval
  - issues.go:   Issue creation and history
  - receipts.go: Receipt creation and history
  - ledger.go:   Stock movements
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// Store implements all backend persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Now is the store clock; expiry checks use its date.
	Now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) today() inventory.Date { return inventory.DateOf(s.Now()) }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS departments (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS materials (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		spec TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		unit_id INTEGER REFERENCES units(id),
		category TEXT NOT NULL DEFAULT 'D',
		manufacturer TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_materials_name ON materials(name);
	CREATE INDEX IF NOT EXISTS idx_materials_code ON materials(code);

	-- One row per lot; lot_number '' is non-lot stock
	CREATE TABLE IF NOT EXISTS inventory_cards (
		id INTEGER PRIMARY KEY,
		material_id INTEGER NOT NULL REFERENCES materials(id),
		lot_number TEXT NOT NULL DEFAULT '',
		qty_available TEXT NOT NULL,
		unit_price TEXT NOT NULL DEFAULT '0',
		mfg_date TEXT,
		exp_date TEXT,
		manufacturer TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		supplier TEXT NOT NULL DEFAULT '',
		receipt_id INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		received_at TEXT NOT NULL
	);

	-- Stock lookup (hot path)
	CREATE INDEX IF NOT EXISTS idx_cards_material_status
		ON inventory_cards(material_id, status, exp_date);

	CREATE TABLE IF NOT EXISTS issue_requests (
		id INTEGER PRIMARY KEY,
		created_by INTEGER NOT NULL,
		requester_name TEXT NOT NULL,
		department_id INTEGER NOT NULL REFERENCES departments(id),
		status TEXT NOT NULL DEFAULT 'pending',
		note TEXT NOT NULL DEFAULT '',
		decided_by INTEGER,
		decided_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		requested_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON issue_requests(status);

	CREATE TABLE IF NOT EXISTS issue_request_lines (
		request_id INTEGER NOT NULL REFERENCES issue_requests(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		material_id INTEGER NOT NULL REFERENCES materials(id),
		qty_requested TEXT NOT NULL,
		PRIMARY KEY (request_id, line_no),
		UNIQUE (request_id, material_id)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY,
		request_id INTEGER NOT NULL REFERENCES issue_requests(id),
		receiver_name TEXT NOT NULL,
		department_id INTEGER NOT NULL,
		issue_date TEXT NOT NULL,
		controlled INTEGER NOT NULL DEFAULT 0,
		total_amount TEXT NOT NULL,
		created_by INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_created_by ON issues(created_by, created_at DESC);

	CREATE TABLE IF NOT EXISTS issue_lines (
		issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		material_id INTEGER NOT NULL,
		card_id INTEGER,
		lot_number TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (issue_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS receipts (
		id INTEGER PRIMARY KEY,
		received_from TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		receipt_date TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_by INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_created_by ON receipts(created_by, created_at DESC);

	CREATE TABLE IF NOT EXISTS receipt_lines (
		receipt_id INTEGER NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		material_id INTEGER NOT NULL REFERENCES materials(id),
		material_name TEXT NOT NULL,
		spec TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		unit_id INTEGER,
		price TEXT NOT NULL,
		qty_doc TEXT NOT NULL,
		qty_actual TEXT NOT NULL,
		lot_number TEXT NOT NULL,
		mfg_date TEXT,
		exp_date TEXT,
		category TEXT NOT NULL DEFAULT 'D',
		card_id INTEGER,
		PRIMARY KEY (receipt_id, line_no)
	);

	-- Append-only: rows are never updated
	CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_id INTEGER NOT NULL REFERENCES inventory_cards(id),
		material_id INTEGER NOT NULL,
		lot_number TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance TEXT NOT NULL,
		doc_id INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_material ON stock_movements(material_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"stock_movements", "issue_lines", "issues", "receipt_lines", "receipts",
		"issue_request_lines", "issue_requests", "inventory_cards",
		"materials", "departments", "units",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in one SQL transaction. The caller holds s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d inventory.Date) sql.NullString {
	return nullString(d.String())
}

func nullID[T ~int64](id T) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}

func parseDate(s sql.NullString) inventory.Date {
	if !s.Valid {
		return inventory.Date{}
	}
	d, _ := inventory.ParseDate(s.String)
	return d
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseQty(s string) decimal.Decimal {
	return inventory.MustParseQty(s)
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
