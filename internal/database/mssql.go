// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/chcoord/etl-core/internal/errs"
)

// azureSQLSuffix identifies an Azure SQL Database host, which requires
// encrypted connections and rejects Windows-trusted auth, per §4.1.
const azureSQLSuffix = ".database.windows.net"

func isAzureSQLHost(host string) bool {
	return len(host) >= len(azureSQLSuffix) &&
		strings.EqualFold(host[len(host)-len(azureSQLSuffix):], azureSQLSuffix)
}

// openMSSQL opens an MS SQL Server or Azure SQL connection, per §6's MS
// SQL shape: {server, port, database, trusted|user+password, driver}.
func openMSSQL(opts OpenOptions) (*DB, error) {
	if opts.Server == "" || opts.Database == "" {
		return nil, fmt.Errorf("%w: mssql engine requires server and database", errs.ErrConfig)
	}

	azure := isAzureSQLHost(opts.Server)
	if azure && opts.Trusted {
		return nil, fmt.Errorf("%w: azure sql does not support trusted (Windows-integrated) connections", errs.ErrConfig)
	}

	query := url.Values{}
	query.Add("database", opts.Database)
	if azure {
		query.Add("encrypt", "true")
		query.Add("trustservercertificate", "false")
	}

	port := opts.Port
	if port == 0 {
		port = 1433
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     fmt.Sprintf("%s:%d", opts.Server, port),
		RawQuery: query.Encode(),
	}
	if opts.Trusted {
		query.Set("trusted_connection", "yes")
		u.RawQuery = query.Encode()
	} else {
		u.User = url.UserPassword(opts.User, opts.Password)
	}

	log.Debug().Str("server", opts.Server).Int("port", port).Bool("azure", azure).Msg("database: opening mssql connection")

	readPool, err := sql.Open("mssql", u.String())
	if err != nil {
		return nil, fmt.Errorf("open mssql at %s: %w", opts.Server, err)
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
		return nil, fmt.Errorf("%w: ping mssql at %s: %v", errs.ErrDialect, opts.Server, err)
	}

	return &DB{
		dialect:  DialectMSSQL,
		readPool: readPool,
	}, nil
}
