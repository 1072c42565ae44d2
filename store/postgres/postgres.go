/*
Package postgres provides a PostgreSQL-backed clinic.TxStore.

PURPOSE:
  Same queries as the SQLite store (store/sqldb), with PostgreSQL
  placeholders and row locks. The pgx stdlib driver registers as "pgx".

CONCURRENCY:
  Stock reads append FOR UPDATE, so a unit of work that decrements a
  product holds its row until commit. Concurrent invoices touching the
  same product serialise on that lock. The partial unique index on
  (practitioner_id, scheduled_at) closes the double-booking race.

USAGE:
  store, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqldb: Query implementation
  - store/sqlite: Embedded alternative
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/clinic-engine/store/sqldb"
)

const uniqueViolation = "23505"

// Store implements clinic.TxStore using PostgreSQL.
type Store struct {
	*sqldb.DB
}

// Dialect is the PostgreSQL flavour of the shared queries.
var Dialect = sqldb.Dialect{
	Name:              "postgres",
	Positional:        true,
	LockClause:        " FOR UPDATE",
	SubstringMatch:    "strpos(%s, ?) > 0",
	IsUniqueViolation: isUniqueViolation,
	TxOptions:         &sql.TxOptions{Isolation: sql.LevelReadCommitted},
}

// Open connects, verifies the connection and migrates the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an existing handle without migrating it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{DB: sqldb.New(db, Dialect)}
}

// Migrate creates the database schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	brand TEXT,
	price NUMERIC(12, 2) NOT NULL,
	stock INTEGER NOT NULL CHECK (stock >= 0),
	min_stock INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS services (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price NUMERIC(12, 2) NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS appointments (
	id TEXT PRIMARY KEY,
	practitioner_id TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	reason TEXT,
	state TEXT NOT NULL CHECK (state IN ('pending', 'attended', 'billed', 'cancelled')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

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
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounters_appointment
	ON encounters(appointment_id);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	appointment_id TEXT NOT NULL UNIQUE REFERENCES appointments(id),
	issued_at TIMESTAMPTZ NOT NULL,
	client_id TEXT NOT NULL,
	client_name TEXT NOT NULL,
	client_address TEXT,
	payment_method TEXT NOT NULL,
	subtotal NUMERIC(12, 2) NOT NULL,
	tax NUMERIC(12, 2) NOT NULL,
	total NUMERIC(12, 2) NOT NULL
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
	unit_price NUMERIC(12, 2) NOT NULL,
	subtotal NUMERIC(12, 2) NOT NULL,
	zone TEXT,
	CHECK (
		(kind = 'service' AND service_id IS NOT NULL AND product_id IS NULL) OR
		(kind = 'product' AND product_id IS NOT NULL AND service_id IS NULL)
	),
	UNIQUE (invoice_id, line_no)
);
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
