// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chcoord/etl-core/internal/errs"
)

// openPostgres opens a PostgreSQL connection via pgx's database/sql driver,
// per §6's {host, port, database, user, password} shape.
func openPostgres(opts OpenOptions) (*DB, error) {
	if opts.Server == "" || opts.Database == "" {
		return nil, fmt.Errorf("%w: postgres engine requires host and database", errs.ErrConfig)
	}

	port := opts.Port
	if port == 0 {
		port = 5432
	}

	sslMode := opts.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	query := url.Values{}
	query.Add("sslmode", sslMode)

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(opts.User, opts.Password),
		Host:     fmt.Sprintf("%s:%d", opts.Server, port),
		Path:     "/" + opts.Database,
		RawQuery: query.Encode(),
	}

	log.Debug().Str("host", opts.Server).Int("port", port).Msg("database: opening postgres connection")

	readPool, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open postgres at %s: %w", opts.Server, err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	readPool.SetMaxOpenConns(maxConns)
	readPool.SetMaxIdleConns(maxConns)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := readPool.PingContext(ctx); err != nil {
		readPool.Close()
		return nil, fmt.Errorf("%w: ping postgres at %s: %v", errs.ErrDialect, opts.Server, err)
	}

	return &DB{
		dialect:  DialectPostgres,
		readPool: readPool,
	}, nil
}
