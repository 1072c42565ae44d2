/*
Package sqlite provides a SQLite-backed clinic.TxStore.

PURPOSE:
  Opens a go-sqlite3 database, migrates the clinic schema and hands the
  connection to the shared sqldb implementation with the SQLite dialect.

KEY TABLES:
  appointments:  Booked slots, never deleted
  encounters:    Clinical notes per appointment
  products:      Catalog products with stock (CHECK stock >= 0)
  services:      Catalog services
  invoices:      Headers, one per appointment
  invoice_lines: Lines, exactly one of service_id / product_id

INDEXES:
  - idx_unique_practitioner_slot: one non-cancelled appointment per
    practitioner and instant (partial unique index)
  - idx_appointments_scheduled_at: day views
  - idx_appointments_patient: patient search

CONCURRENCY:
  Transactions are opened with _txlock=immediate, so a unit of work takes
  the database write lock at BEGIN. Two stock adjustments on the same
  product therefore run one after the other, and the compare-and-swap
  write catches anything that slips past.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/clinic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := clinic.NewServices(store, clinic.Options{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqldb: Query implementation
  - clinic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/clinic-engine/store/sqldb"
)

// Store implements clinic.TxStore using SQLite.
type Store struct {
	*sqldb.DB
}

// Dialect is the SQLite flavour of the shared queries.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	SubstringMatch:    "instr(%s, ?) > 0",
	IsUniqueViolation: isUniqueConstraintError,
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{DB: sqldb.New(db, Dialect)}, nil
}

// migrate creates the database schema.
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		brand TEXT,
		price TEXT NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		min_stock INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		practitioner_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		reason TEXT,
		state TEXT NOT NULL CHECK (state IN ('pending', 'attended', 'billed', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- A practitioner cannot hold two live appointments at the same instant.
	-- Cancelled rows stay in the table but leave the index.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_practitioner_slot
		ON appointments(practitioner_id, scheduled_at)
		WHERE state <> 'cancelled';

	CREATE INDEX IF NOT EXISTS idx_appointments_scheduled_at
		ON appointments(scheduled_at, state);
	CREATE INDEX IF NOT EXISTS idx_appointments_patient
		ON appointments(patient_id);

	CREATE TABLE IF NOT EXISTS encounters (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL REFERENCES appointments(id),
		diagnosis TEXT NOT NULL,
		treatment TEXT NOT NULL,
		notes TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_encounters_appointment
		ON encounters(appointment_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL UNIQUE REFERENCES appointments(id),
		issued_at TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_name TEXT NOT NULL,
		client_address TEXT,
		payment_method TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		line_no INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('service', 'product')),
		service_id TEXT REFERENCES services(id),
		product_id TEXT REFERENCES products(id),
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		zone TEXT,
		CHECK (
			(kind = 'service' AND service_id IS NOT NULL AND product_id IS NULL) OR
			(kind = 'product' AND product_id IS NOT NULL AND service_id IS NULL)
		),
		UNIQUE (invoice_id, line_no)
	);
	`

	_, err := db.Exec(schema)
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
