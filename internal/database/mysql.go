// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/go-sql-driver/mysql"

	"github.com/chcoord/etl-core/internal/errs"
)

// openMySQL opens a MySQL/MariaDB connection, per §6's {host, port,
// database, user, password} shape.
func openMySQL(opts OpenOptions) (*DB, error) {
	if opts.Server == "" || opts.Database == "" {
		return nil, fmt.Errorf("%w: mysql engine requires host and database", errs.ErrConfig)
	}

	port := opts.Port
	if port == 0 {
		port = 3306
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Server, port)
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Timeout = timeout
	cfg.MultiStatements = false

	log.Debug().Str("host", opts.Server).Int("port", port).Msg("database: opening mysql connection")

	readPool, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql at %s: %w", opts.Server, err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	readPool.SetMaxOpenConns(maxConns)
	readPool.SetMaxIdleConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := readPool.PingContext(ctx); err != nil {
		readPool.Close()
		return nil, fmt.Errorf("%w: ping mysql at %s: %v", errs.ErrDialect, opts.Server, err)
	}

	return &DB{
		dialect:  DialectMySQL,
		readPool: readPool,
	}, nil
}
