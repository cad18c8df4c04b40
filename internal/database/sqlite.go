// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/chcoord/etl-core/internal/errs"
)

// sqlitePragmas are run by openSQLite through the pool and again on the
// dedicated write connection, per §4.1: WAL for concurrent readers during
// writes, foreign keys on, a generous busy timeout so reader/writer
// contention resolves by waiting rather than failing, and a bounded page
// cache. journal_mode is stored in the database file and holds for every
// connection; the other pragmas are per connection, and reader
// connections the pool opens after openSQLite returns run without them.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA cache_size = 10000",
	"PRAGMA temp_store = MEMORY",
}

func applySQLitePragmas(ctx context.Context, conn interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}) error {
	for _, pragma := range sqlitePragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// openSQLite opens a SQLite database, the metadata store or a SQLite
// warehouse (§5: one SQLite file shared by
// all workers in a job, serialized through a single dedicated write
// connection) and a separate reader pool for concurrent SELECTs.
func openSQLite(opts OpenOptions) (*DB, error) {
	path := opts.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite engine requires a database path", errs.ErrConfig)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	log.Debug().Str("path", path).Msg("database: opening sqlite metadata store")

	readPool, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 4
	}
	readPool.SetMaxOpenConns(maxConns)
	readPool.SetMaxIdleConns(maxConns)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := applySQLitePragmas(ctx, readPool); err != nil {
		readPool.Close()
		return nil, err
	}

	writeConn, err := readPool.Conn(ctx)
	if err != nil {
		readPool.Close()
		return nil, fmt.Errorf("acquire dedicated sqlite write connection: %w", err)
	}
	if err := applySQLitePragmas(ctx, writeConn); err != nil {
		writeConn.Close()
		readPool.Close()
		return nil, err
	}

	return &DB{
		dialect:   DialectSQLite,
		readPool:  readPool,
		writeConn: writeConn,
	}, nil
}
