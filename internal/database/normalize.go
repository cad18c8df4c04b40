// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import "strings"

// Canonical type/token vocabulary emitted by the Schema Catalog (C2). Normalize
// rewrites these tokens, plus a handful of runtime SQL fragments, into
// dialect-correct text, per §4.1.
const (
	TokenAutoIncrement = "{{AUTOINCREMENT}}"
	TokenIfNotExists   = "{{IF_NOT_EXISTS}}"
)

var columnTypeTable = map[string]map[Dialect]string{
	"TEXT": {
		DialectSQLite:   "TEXT",
		DialectMSSQL:    "NVARCHAR(MAX)",
		DialectPostgres: "TEXT",
		DialectMySQL:    "TEXT",
	},
	"INTEGER": {
		DialectSQLite:   "INTEGER",
		DialectMSSQL:    "INT",
		DialectPostgres: "INTEGER",
		DialectMySQL:    "INT",
	},
	"REAL": {
		DialectSQLite:   "REAL",
		DialectMSSQL:    "FLOAT",
		DialectPostgres: "DOUBLE PRECISION",
		DialectMySQL:    "DOUBLE",
	},
	"TIMESTAMP": {
		DialectSQLite:   "TIMESTAMP",
		DialectMSSQL:    "DATETIME2",
		DialectPostgres: "TIMESTAMP",
		DialectMySQL:    "DATETIME",
	},
	"DATE": {
		DialectSQLite:   "DATE",
		DialectMSSQL:    "DATE",
		DialectPostgres: "DATE",
		DialectMySQL:    "DATE",
	},
	"BOOL": {
		DialectSQLite:   "BOOLEAN",
		DialectMSSQL:    "BIT",
		DialectPostgres: "BOOLEAN",
		DialectMySQL:    "TINYINT(1)",
	},
}

// ColumnType translates one canonical column type token to the dialect's
// native type name.
func (d Dialect) ColumnType(canonical string) string {
	if variants, ok := columnTypeTable[strings.ToUpper(canonical)]; ok {
		if t, ok := variants[d]; ok {
			return t
		}
	}
	return canonical
}

var autoIncrementTable = map[Dialect]string{
	DialectSQLite:   "AUTOINCREMENT",
	DialectMSSQL:    "IDENTITY(1,1)",
	DialectPostgres: "", // Normalize renders `INTEGER {{AUTOINCREMENT}}` as SERIAL
	DialectMySQL:    "AUTO_INCREMENT",
}

// AutoIncrementToken returns the dialect's autoincrement syntax token.
func (d Dialect) AutoIncrementToken() string {
	return autoIncrementTable[d]
}

// Normalize converts one canonical DDL statement into dialect-correct DDL,
// per §4.1:
//   - type tokens via ColumnType: TEXT -> NVARCHAR(MAX) on MS SQL (TEXT
//     elsewhere), INTEGER -> INT on MS SQL and MySQL (INTEGER elsewhere),
//     and likewise REAL, TIMESTAMP and BOOL
//   - {{AUTOINCREMENT}} -> AUTOINCREMENT|IDENTITY(1,1)|AUTO_INCREMENT on
//     SQLite|MS SQL|MySQL; on PostgreSQL `INTEGER {{AUTOINCREMENT}}`
//     becomes SERIAL and any other occurrence of the token is removed
//   - `||` string concatenation -> `+` on MS SQL
//   - `julianday('now')-julianday(col)` -> `DATEDIFF(day, col, GETDATE())`
//   - {{IF_NOT_EXISTS}} -> "IF NOT EXISTS " everywhere except MS SQL, which
//     does not support the clause on CREATE TABLE.
func (d Dialect) Normalize(ddl string) string {
	out := ddl

	for canonical, variants := range columnTypeTable {
		if native, ok := variants[d]; ok && native != canonical {
			out = replaceWholeWord(out, canonical, native)
		}
	}

	if d == DialectPostgres {
		out = strings.ReplaceAll(out, "INTEGER "+TokenAutoIncrement, "SERIAL")
	}
	out = strings.ReplaceAll(out, TokenAutoIncrement, d.AutoIncrementToken())

	switch d {
	case DialectMSSQL:
		out = strings.ReplaceAll(out, TokenIfNotExists, "")
		out = strings.ReplaceAll(out, "||", "+")
		out = normalizeDateDiff(out)
	default:
		out = strings.ReplaceAll(out, TokenIfNotExists, "IF NOT EXISTS ")
	}

	return out
}

// normalizeDateDiff rewrites the canonical SQLite-flavored
// `julianday('now')-julianday(col)` idiom into MS SQL's DATEDIFF form, per §4.1.
func normalizeDateDiff(ddl string) string {
	const marker = "julianday('now')-julianday("
	for {
		idx := strings.Index(ddl, marker)
		if idx == -1 {
			return ddl
		}
		rest := ddl[idx+len(marker):]
		end := strings.Index(rest, ")")
		if end == -1 {
			return ddl
		}
		col := rest[:end]
		replacement := "DATEDIFF(day, " + col + ", GETDATE())"
		ddl = ddl[:idx] + replacement + rest[end+1:]
	}
}

func replaceWholeWord(s, word, repl string) string {
	var out strings.Builder
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], word)
		if idx == -1 {
			out.WriteString(s[i:])
			break
		}
		start := i + idx
		end := start + len(word)

		boundaryBefore := start == 0 || !isIdentChar(s[start-1])
		boundaryAfter := end == len(s) || !isIdentChar(s[end])

		out.WriteString(s[i:start])
		if boundaryBefore && boundaryAfter {
			out.WriteString(repl)
		} else {
			out.WriteString(word)
		}
		i = end
	}
	return out.String()
}

func isIdentChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
