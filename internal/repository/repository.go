// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package repository is the Repository (C3): parameterized CRUD and
// upsert-by-primary-key over one warehouse table, per §4.3. It never
// interpolates user data into SQL text.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/dbinterface"
	"github.com/chcoord/etl-core/internal/errs"
	"github.com/chcoord/etl-core/internal/schemacatalog"
)

// Row is one record bound for a warehouse table, keyed by canonical
// column name. Per §9's dynamic-typing note, every value is carried as a
// string; the dialect's implicit type coercion handles affinity.
type Row map[string]string

// InsertResult reports the outcome of a batch write, per §4.3 and the
// §9 guidance to split heterogeneous results into typed values.
type InsertResult struct {
	Inserted  int
	Updated   int
	Skipped   int
	Total     int
	ElapsedMs int64
}

// Repository offers parameterized CRUD for one canonical table.
type Repository struct {
	db    dbinterface.TxBeginner
	table schemacatalog.TableDef
	now   func() time.Time
}

// New binds a Repository to one table definition over a warehouse
// connection. nowFn is injectable for deterministic tests; nil uses
// time.Now.
func New(db dbinterface.TxBeginner, table schemacatalog.TableDef, nowFn func() time.Time) *Repository {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Repository{db: db, table: table, now: nowFn}
}

// InsertBatch appends rows, stamping etl_loaded_at/etl_updated_at. A nil
// or empty rows is a successful no-op (§4.3 contract).
func (r *Repository) InsertBatch(ctx context.Context, dialect database.Dialect, rows []Row) (InsertResult, error) {
	start := time.Now()
	if len(rows) == 0 {
		return InsertResult{}, nil
	}

	now := r.now()
	cols := r.table.ColumnNames()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("%w: begin insert batch: %v", errs.ErrRepo, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	inserted := 0
	for _, row := range rows {
		query, args := buildInsert(dialect, r.table.Name, cols, row, now)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return InsertResult{}, fmt.Errorf("%w: insert into %s: %v", errs.ErrRepo, r.table.Name, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: commit insert batch: %v", errs.ErrRepo, err)
	}

	return InsertResult{
		Inserted:  inserted,
		Total:     len(rows),
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// UpsertByPrimaryKey splits rows into existing/new sets by prefetching the
// full current key set, then, in one transaction, inserts new rows and
// updates existing ones with one statement per row, per §4.3's
// algorithmic note. The caller (File Worker,
// within an orchestrator job) is responsible for serializing concurrent
// callers targeting the same table, per §5.
func (r *Repository) UpsertByPrimaryKey(ctx context.Context, dialect database.Dialect, rows []Row, pk string) (InsertResult, error) {
	start := time.Now()
	if len(rows) == 0 {
		return InsertResult{}, nil
	}

	existing, err := r.existingKeys(ctx, dialect, pk)
	if err != nil {
		return InsertResult{}, err
	}

	now := r.now()
	cols := r.table.ColumnNames()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("%w: begin upsert: %v", errs.ErrRepo, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var inserted, updated, skipped int
	for _, row := range rows {
		key, ok := row[pk]
		if !ok || key == "" {
			query, args := buildInsert(dialect, r.table.Name, cols, row, now)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return InsertResult{}, fmt.Errorf("%w: insert (no key) into %s: %v", errs.ErrRepo, r.table.Name, err)
			}
			inserted++
			continue
		}

		if _, found := existing[key]; found {
			query, args := buildUpdate(dialect, r.table.Name, cols, row, pk, now)
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return InsertResult{}, fmt.Errorf("%w: update %s: %v", errs.ErrRepo, r.table.Name, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				skipped++
			} else {
				updated++
			}
			continue
		}

		query, args := buildInsert(dialect, r.table.Name, cols, row, now)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return InsertResult{}, fmt.Errorf("%w: insert into %s: %v", errs.ErrRepo, r.table.Name, err)
		}
		inserted++
		existing[key] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: commit upsert: %v", errs.ErrRepo, err)
	}

	return InsertResult{
		Inserted:  inserted,
		Updated:   updated,
		Skipped:   skipped,
		Total:     len(rows),
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// existingKeys prefetches the full current primary-key set, per §4.3's
// "the prefetch must return the full existing key set at the instant the
// batch begins" requirement.
func (r *Repository) existingKeys(ctx context.Context, dialect database.Dialect, pk string) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", dialect.QuoteIdent(pk), dialect.QuoteIdent(r.table.Name))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: prefetch keys for %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: scan key for %s: %v", errs.ErrRepo, r.table.Name, err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate keys for %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	return keys, nil
}

// Count returns the number of rows currently in the table.
func (r *Repository) Count(ctx context.Context, dialect database.Dialect) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", dialect.QuoteIdent(r.table.Name))
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	return n, nil
}

// GetAll pages through the table's rows, ordered by primary key when one
// is declared.
func (r *Repository) GetAll(ctx context.Context, dialect database.Dialect, limit, offset int) ([]Row, error) {
	cols := r.table.ColumnNames()
	query := fmt.Sprintf("SELECT %s FROM %s", quoteColumnList(dialect, cols), dialect.QuoteIdent(r.table.Name))
	if pk, ok := r.table.PrimaryKey(); ok {
		query += fmt.Sprintf(" ORDER BY %s", dialect.QuoteIdent(pk))
	}
	query += fmt.Sprintf(" LIMIT %s OFFSET %s", dialect.Placeholder(1), dialect.Placeholder(2))

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: get all %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	defer rows.Close()
	return scanRows(rows, cols)
}

// GetById fetches a single row by its primary key value, via the given
// primary key column name.
func (r *Repository) GetById(ctx context.Context, dialect database.Dialect, id, pkCol string) (Row, bool, error) {
	cols := r.table.ColumnNames()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		quoteColumnList(dialect, cols), dialect.QuoteIdent(r.table.Name), dialect.QuoteIdent(pkCol), dialect.Placeholder(1))

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get by id from %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	defer rows.Close()

	results, err := scanRows(rows, cols)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	return results[0], true, nil
}

// Search performs a LIKE search across cols, limited to limit rows.
// Whether matching ignores case is left to the dialect's LIKE and
// collation (SQLite ignores ASCII case; PostgreSQL does not).
func (r *Repository) Search(ctx context.Context, dialect database.Dialect, term string, cols []string, limit int) ([]Row, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	allCols := r.table.ColumnNames()

	var conditions []string
	var args []any
	n := 1
	for _, col := range cols {
		conditions = append(conditions, fmt.Sprintf("%s LIKE %s", dialect.QuoteIdent(col), dialect.Placeholder(n)))
		args = append(args, "%"+term+"%")
		n++
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT %s",
		quoteColumnList(dialect, allCols), dialect.QuoteIdent(r.table.Name), strings.Join(conditions, " OR "), dialect.Placeholder(n))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", errs.ErrRepo, r.table.Name, err)
	}
	defer rows.Close()
	return scanRows(rows, allCols)
}

func quoteColumnList(dialect database.Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dialect.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func buildInsert(dialect database.Dialect, table string, cols []string, row Row, now time.Time) (string, []any) {
	allCols := append(append([]string{}, cols...), schemacatalog.ColumnLoadedAt, schemacatalog.ColumnUpdatedAt)
	placeholders := make([]string, len(allCols))
	args := make([]any, len(allCols))

	for i, col := range cols {
		placeholders[i] = dialect.Placeholder(i + 1)
		args[i] = rowValue(row, col)
	}
	placeholders[len(cols)] = dialect.Placeholder(len(cols) + 1)
	placeholders[len(cols)+1] = dialect.Placeholder(len(cols) + 2)
	args[len(cols)] = now
	args[len(cols)+1] = now

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		dialect.QuoteIdent(table), quoteColumnList(dialect, allCols), strings.Join(placeholders, ", "))
	return query, args
}

func buildUpdate(dialect database.Dialect, table string, cols []string, row Row, pk string, now time.Time) (string, []any) {
	var setClauses []string
	var args []any
	n := 1
	for _, col := range cols {
		if col == pk {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", dialect.QuoteIdent(col), dialect.Placeholder(n)))
		args = append(args, rowValue(row, col))
		n++
	}
	setClauses = append(setClauses, fmt.Sprintf("%s = %s", dialect.QuoteIdent(schemacatalog.ColumnUpdatedAt), dialect.Placeholder(n)))
	args = append(args, now)
	n++

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		dialect.QuoteIdent(table), strings.Join(setClauses, ", "), dialect.QuoteIdent(pk), dialect.Placeholder(n))
	args = append(args, row[pk])

	return query, args
}

func rowValue(row Row, col string) any {
	v, ok := row[col]
	if !ok {
		return nil
	}
	return v
}

func scanRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}, cols []string) ([]Row, error) {
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", errs.ErrRepo, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = stringify(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", errs.ErrRepo, err)
	}
	return out, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
