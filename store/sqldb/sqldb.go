/*
Package sqldb implements clinic.Store on top of database/sql.

PURPOSE:
  One implementation of every clinic query, parameterised by a Dialect
  so SQLite and PostgreSQL differ only where their SQL does: placeholder
  syntax, row-lock clauses, and the shape of constraint errors.

KEY TYPES:
  DB:      clinic.TxStore over *sql.DB
  conn:    clinic.Store over either *sql.DB or *sql.Tx
  Dialect: the backend-specific bits

UNIQUENESS:
  Schemas must carry
  - a partial unique index on appointments(practitioner_id, scheduled_at)
    for rows whose state is not 'cancelled'
  - a unique constraint on invoices(appointment_id)
  Violations surface as clinic.ErrSlotConflict and clinic.ErrAlreadyInvoiced.

TIME & MONEY ENCODING:
  Times are bound as RFC3339 strings in UTC at second precision, which
  keeps equality and range comparisons exact in both backends. Money is
  bound as decimal strings.

SEE ALSO:
  - store/sqlite: go-sqlite3 dialect and schema
  - store/postgres: pgx dialect and schema
  - clinic/store.go: Interface definitions
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/clinic-engine/clinic"
)

// Dialect captures the backend-specific behaviour.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Positional placeholders ($1, $2, ...) instead of '?'.
	Positional bool

	// LockClause is appended to the stock read, e.g. " FOR UPDATE".
	LockClause string

	// SubstringMatch is a case-sensitive literal containment test with one
	// %s for the column and one placeholder for the needle, e.g.
	// "instr(%s, ?) > 0".
	SubstringMatch string

	// IsUniqueViolation reports a unique or primary key constraint failure.
	IsUniqueViolation func(err error) bool

	// TxOptions are passed to BeginTx.
	TxOptions *sql.TxOptions
}

// Rebind rewrites '?' placeholders for the dialect.
func (d *Dialect) Rebind(query string) string {
	if !d.Positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// conn runs clinic queries against q.
type conn struct {
	q querier
	d *Dialect
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

// =============================================================================
// DB - clinic.TxStore
// =============================================================================

// DB implements clinic.TxStore.
type DB struct {
	conn
	db *sql.DB
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB, dialect Dialect) *DB {
	d := dialect
	return &DB{conn: conn{q: db, d: &d}, db: db}
}

// SQL exposes the underlying handle for migrations and health checks.
func (s *DB) SQL() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes a function within a database transaction.
func (s *DB) WithTx(ctx context.Context, fn func(clinic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, d: s.d}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var (
	_ clinic.TxStore = (*DB)(nil)
	_ clinic.Store   = (*conn)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return clinic.NormalizeTime(t).Format(time.RFC3339)
}

// timeValue scans TEXT (RFC3339) and native timestamp columns alike.
type timeValue struct {
	Time time.Time
}

func (tv *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		tv.Time = time.Time{}
		return nil
	case time.Time:
		tv.Time = v.UTC()
		return nil
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (tv *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", s, err)
	}
	tv.Time = t.UTC()
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
