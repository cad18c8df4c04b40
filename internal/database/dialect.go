// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database is the Dialect Adapter (C1): it opens warehouse
// connections and translates canonical DDL/SQL fragments to the active
// dialect, per spec §4.1.
package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chcoord/etl-core/internal/errs"
)

// Dialect identifies one of the four supported warehouse engines.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMSSQL    Dialect = "mssql"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func (d Dialect) String() string { return string(d) }

// ParseDialect normalizes a free-form engine name into a Dialect.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(DialectSQLite):
		return DialectSQLite, nil
	case string(DialectMSSQL), "sqlserver", "azuresql", "mssqlserver":
		return DialectMSSQL, nil
	case string(DialectPostgres), "postgresql", "pg":
		return DialectPostgres, nil
	case string(DialectMySQL), "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("%w: unsupported database engine %q", errs.ErrDialect, raw)
	}
}

// Placeholder renders the nth (1-indexed) bind parameter for the dialect.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case DialectPostgres:
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// QuoteIdent quotes a bare identifier (table/column name) for the dialect.
func (d Dialect) QuoteIdent(name string) string {
	switch d {
	case DialectMSSQL:
		return "[" + name + "]"
	case DialectMySQL:
		return "`" + name + "`"
	default:
		return `"` + name + `"`
	}
}

// rebindPlaceholders rewrites a query written with `?` placeholders into
// the dialect's native bind-parameter syntax. SQLite, MSSQL (via go-mssqldb's
// `?` compatibility mode) and MySQL all accept `?` natively; only Postgres
// needs the `?` -> `$n` rewrite.
func (d Dialect) rebindPlaceholders(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	return rebindQuestionToDollar(query)
}

// rebindQuestionToDollar converts `?` placeholders to Postgres `$n` syntax,
// skipping `?` characters that appear inside string/identifier literals or
// comments. Kept from the teacher's internal/database/dialect.go, which
// solved the same problem for its sqlite->postgres rebind path.
func rebindQuestionToDollar(query string) string {
	var (
		out            strings.Builder
		param          int
		inSingleQuote  bool
		inDoubleQuote  bool
		inLineComment  bool
		inBlockComment bool
	)
	out.Grow(len(query) + 16)

	for i := 0; i < len(query); i++ {
		ch := query[i]

		if inLineComment {
			out.WriteByte(ch)
			if ch == '\n' {
				inLineComment = false
			}
			continue
		}
		if inBlockComment {
			out.WriteByte(ch)
			if ch == '*' && i+1 < len(query) && query[i+1] == '/' {
				out.WriteByte('/')
				i++
				inBlockComment = false
			}
			continue
		}
		if inSingleQuote {
			out.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte('\'')
					i++
				} else {
					inSingleQuote = false
				}
			}
			continue
		}
		if inDoubleQuote {
			out.WriteByte(ch)
			if ch == '"' {
				if i+1 < len(query) && query[i+1] == '"' {
					out.WriteByte('"')
					i++
				} else {
					inDoubleQuote = false
				}
			}
			continue
		}

		switch {
		case ch == '\'':
			inSingleQuote = true
			out.WriteByte(ch)
		case ch == '"':
			inDoubleQuote = true
			out.WriteByte(ch)
		case ch == '-' && i+1 < len(query) && query[i+1] == '-':
			inLineComment = true
			out.WriteString("--")
			i++
		case ch == '/' && i+1 < len(query) && query[i+1] == '*':
			inBlockComment = true
			out.WriteString("/*")
			i++
		case ch == '?':
			param++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(param))
		default:
			out.WriteByte(ch)
		}
	}

	return out.String()
}
