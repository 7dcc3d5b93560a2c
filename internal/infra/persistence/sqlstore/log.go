// Package sqlstore implements domain.ReadingBackend on top of database/sql.
// The sqlite and postgres packages supply a Dialect and an opened *sql.DB.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"plcserver/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.ReadingBackend = (*Log)(nil)

// Dialect captures the statements that differ between SQL engines.
type Dialect struct {
	Name string
	// IDColumn is the column definition of the auto-incrementing key.
	IDColumn string
	// TimestampColumn is the column definition of the insertion timestamp.
	TimestampColumn string
	// ValueTypes maps each quantity to its value column type.
	ValueTypes map[domain.Quantity]string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// CreateTableDDL renders the CREATE TABLE statement for a quantity.
func (d Dialect) CreateTableDDL(q domain.Quantity) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s,
		"timestamp" %s,
		%s %s NOT NULL
	)`, q.Table(), d.IDColumn, d.TimestampColumn, q.Column(), d.ValueTypes[q])
}

// Log is a reading log stored in three append-only tables.
type Log struct {
	db      *sql.DB
	dialect Dialect
	// stamped records which tables carry the optional timestamp column.
	stamped map[domain.Quantity]bool
}

// New wraps an opened database. The pool is pinned to a single connection.
func New(db *sql.DB, dialect Dialect) *Log {
	db.SetMaxOpenConns(1)
	return &Log{db: db, dialect: dialect, stamped: make(map[domain.Quantity]bool, len(domain.Quantities))}
}

// EnsureSchema creates any missing reading tables.
func (l *Log) EnsureSchema(ctx context.Context) error {
	for _, q := range domain.Quantities {
		if _, err := l.db.ExecContext(ctx, l.dialect.CreateTableDDL(q)); err != nil {
			return fmt.Errorf("create %s table: %w", q.Table(), err)
		}
	}
	return nil
}

// DetectColumns records which tables have a timestamp column. Databases
// written by older deployments only carry id and value.
func (l *Log) DetectColumns(ctx context.Context) {
	for _, q := range domain.Quantities {
		check := fmt.Sprintf(`SELECT "timestamp" FROM %s LIMIT 0`, q.Table())
		rows, err := l.db.QueryContext(ctx, check)
		if err != nil {
			l.stamped[q] = false
			continue
		}
		_ = rows.Close()
		l.stamped[q] = true
	}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (l *Log) DB() *sql.DB { return l.db }

// Dialect returns the SQL dialect in use.
func (l *Log) Dialect() Dialect { return l.dialect }

func (l *Log) selectColumns(q domain.Quantity) string {
	if l.stamped[q] {
		return fmt.Sprintf(`id, %s, "timestamp"`, q.Column())
	}
	return "id, " + q.Column()
}

// Latest implements domain.ReadingBackend.
func (l *Log) Latest(ctx context.Context, q domain.Quantity) (domain.Reading, error) {
	if !q.Valid() {
		return domain.Reading{}, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT 1", l.selectColumns(q), q.Table())
	row := l.db.QueryRowContext(ctx, query)
	reading, err := l.scan(q, row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reading{}, fmt.Errorf("%s: %w", q.Table(), domain.ErrNoReadings)
	}
	if err != nil {
		return domain.Reading{}, fmt.Errorf("select latest %s: %w", q.Table(), err)
	}
	return reading, nil
}

// Append implements domain.ReadingBackend.
func (l *Log) Append(ctx context.Context, q domain.Quantity, value any) (domain.Reading, error) {
	v, err := q.Normalize(value)
	if err != nil {
		return domain.Reading{}, err
	}
	returning := "id"
	if l.stamped[q] {
		returning = `id, "timestamp"`
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		q.Table(), q.Column(), l.dialect.Placeholder(1), returning)
	reading := domain.Reading{Quantity: q, Value: v}
	row := l.db.QueryRowContext(ctx, stmt, v)
	if l.stamped[q] {
		var ts sql.NullString
		err = row.Scan(&reading.ID, &ts)
		reading.RecordedAt = parseTimestamp(ts)
	} else {
		err = row.Scan(&reading.ID)
	}
	if err != nil {
		return domain.Reading{}, fmt.Errorf("insert %s: %w", q.Table(), err)
	}
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = time.Now().UTC()
	}
	return reading, nil
}

// Count implements domain.ReadingBackend.
func (l *Log) Count(ctx context.Context, q domain.Quantity) (int64, error) {
	if !q.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	var n int64
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.Table()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Table(), err)
	}
	return n, nil
}

// History implements domain.ReadingBackend.
func (l *Log) History(ctx context.Context, q domain.Quantity, afterID int64, limit int) ([]domain.Reading, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE id > %s ORDER BY id ASC",
		l.selectColumns(q), q.Table(), l.dialect.Placeholder(1))
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	rows, err := l.db.QueryContext(ctx, b.String(), afterID)
	if err != nil {
		return nil, fmt.Errorf("select %s history: %w", q.Table(), err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Reading
	for rows.Next() {
		r, err := l.scan(q, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table(), err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Table(), err)
	}
	return out, nil
}

// Close implements domain.ReadingBackend.
func (l *Log) Close() error { return l.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func (l *Log) scan(q domain.Quantity, s scanner) (domain.Reading, error) {
	reading := domain.Reading{Quantity: q}
	var ts sql.NullString
	dest := []any{&reading.ID, nil}
	if l.stamped[q] {
		dest = append(dest, &ts)
	}
	var (
		f float64
		b bool
		i int64
	)
	switch q {
	case domain.QuantityLevel:
		dest[1] = &f
	case domain.QuantityValvePosition:
		dest[1] = &b
	default:
		dest[1] = &i
	}
	if err := s.Scan(dest...); err != nil {
		return domain.Reading{}, err
	}
	switch q {
	case domain.QuantityLevel:
		reading.Value = f
	case domain.QuantityValvePosition:
		reading.Value = b
	default:
		if i > math.MaxInt32 || i < math.MinInt32 {
			return domain.Reading{}, fmt.Errorf("threshold %d overflows int32", i)
		}
		reading.Value = int32(i)
	}
	reading.RecordedAt = parseTimestamp(ts)
	return reading, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimestamp(ts sql.NullString) time.Time {
	if !ts.Valid || ts.String == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts.String); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
