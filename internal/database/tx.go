// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"

	"github.com/chcoord/etl-core/internal/dbinterface"
)

// Tx wraps a *sql.Tx with the dialect's placeholder rebinding, and, for
// SQLite write transactions, the write-mutex unlock func acquired by
// DB.BeginTx. Commit/Rollback release that lock exactly once.
type Tx struct {
	tx     *sql.Tx
	db     *DB
	unlock func()
}

var _ dbinterface.TxQuerier = (*Tx)(nil)

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.bind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.db.bind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.db.bind(query), args...)
}

func (t *Tx) Commit() error {
	err := t.tx.Commit()
	t.releaseWriteLock()
	return err
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	t.releaseWriteLock()
	return err
}

// releaseWriteLock unlocks the write mutex at most once: a caller may
// legitimately call Rollback after a failed Commit.
func (t *Tx) releaseWriteLock() {
	if t.unlock != nil {
		t.unlock()
		t.unlock = nil
	}
}
