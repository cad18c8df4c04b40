// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chcoord/etl-core/internal/dbinterface"
	"github.com/chcoord/etl-core/internal/errs"
)

const defaultConnectTimeout = 30 * time.Second

// OpenOptions configures a warehouse connection, covering every shape
// named in §6: SQLite path; MS SQL {server,port,database,trusted|user+
// password,driver}; PG/MySQL {host,port,database,user,password}; plus
// shared {connection_timeout, max_connections}.
type OpenOptions struct {
	Engine string

	SQLitePath string

	Server   string
	Port     int
	Database string
	User     string
	Password string
	Trusted  bool
	Driver   string
	SSLMode  string

	ConnectTimeout time.Duration
	MaxConnections int
}

// DB wraps a *sql.DB (or, for SQLite, a dedicated single-writer connection
// plus a reader pool) and knows its own Dialect so callers never issue
// dialect-specific SQL directly.
type DB struct {
	dialect Dialect

	readPool  *sql.DB
	writeConn *sql.Conn // sqlite only: serializes all writes through one connection

	writeMu sync.Mutex // serializes writeConn access; sqlite only

	closeOnce sync.Once
}

var _ dbinterface.TxBeginner = (*DB)(nil)

// Open opens a warehouse connection for the given dialect, applying
// dialect-specific connection setup (§4.1): SQLite PRAGMAs, Azure SQL
// encryption enforcement, and pool sizing.
func Open(opts OpenOptions) (*DB, error) {
	dialect, err := ParseDialect(opts.Engine)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		return openSQLite(opts)
	case DialectMSSQL:
		return openMSSQL(opts)
	case DialectPostgres:
		return openPostgres(opts)
	case DialectMySQL:
		return openMySQL(opts)
	default:
		return nil, fmt.Errorf("%w: dialect %q has no Open implementation", errs.ErrDialect, opts.Engine)
	}
}

// Dialect reports which warehouse engine this connection targets.
func (db *DB) Dialect() Dialect {
	if db == nil {
		return DialectSQLite
	}
	return db.dialect
}

// Conn exposes the underlying read pool, e.g. for migration tooling that
// needs raw database/sql access.
func (db *DB) Conn() *sql.DB { return db.readPool }

func (db *DB) bind(query string) string {
	return db.dialect.rebindPlaceholders(query)
}

// ExecContext runs a write/DDL statement. SQLite writes are serialized
// through the dedicated write connection (§5: the metadata SQLite
// connection is shared by all workers); other dialects use the pool,
// which already serializes via row/table locking at the server.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = db.bind(query)
	if db.writeConn != nil {
		db.writeMu.Lock()
		defer db.writeMu.Unlock()
		return db.writeConn.ExecContext(ctx, query, args...)
	}
	return db.readPool.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.readPool.QueryContext(ctx, db.bind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.readPool.QueryRowContext(ctx, db.bind(query), args...)
}

// BeginTx starts a transaction. For SQLite, write transactions are pinned
// to the dedicated write connection so they serialize with ExecContext
// callers exactly as the teacher's single-writer model does.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	isReadOnly := opts != nil && opts.ReadOnly

	var tx *sql.Tx
	var err error
	var unlock func()

	if db.writeConn != nil && !isReadOnly {
		db.writeMu.Lock()
		unlock = db.writeMu.Unlock
		tx, err = db.writeConn.BeginTx(ctx, opts)
	} else {
		tx, err = db.readPool.BeginTx(ctx, opts)
	}
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return nil, fmt.Errorf("%w: begin transaction: %v", errs.ErrDialect, err)
	}

	return &Tx{tx: tx, db: db, unlock: unlock}, nil
}

// Close releases all connections held by DB.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		if db.writeConn != nil {
			if cerr := db.writeConn.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("database: failed to close dedicated write connection")
			}
		}
		if db.readPool != nil {
			err = db.readPool.Close()
		}
	})
	return err
}
