// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NVARCHAR(MAX)", DialectMSSQL.ColumnType("TEXT"))
	assert.Equal(t, "TEXT", DialectPostgres.ColumnType("TEXT"))
	assert.Equal(t, "TEXT", DialectMySQL.ColumnType("TEXT"))
	assert.Equal(t, "DOUBLE PRECISION", DialectPostgres.ColumnType("REAL"))
	assert.Equal(t, "DOUBLE", DialectMySQL.ColumnType("REAL"))
	assert.Equal(t, "BIT", DialectMSSQL.ColumnType("BOOL"))
	assert.Equal(t, "TINYINT(1)", DialectMySQL.ColumnType("BOOL"))

	// Unknown tokens pass through unchanged.
	assert.Equal(t, "VARCHAR(50)", DialectPostgres.ColumnType("VARCHAR(50)"))
}

func TestNormalizeAutoIncrement(t *testing.T) {
	t.Parallel()

	ddl := "CREATE TABLE people (id INTEGER " + TokenAutoIncrement + " PRIMARY KEY)"

	assert.Contains(t, DialectSQLite.Normalize(ddl), "AUTOINCREMENT")
	assert.Contains(t, DialectMSSQL.Normalize(ddl), "IDENTITY(1,1)")
	assert.Contains(t, DialectMySQL.Normalize(ddl), "AUTO_INCREMENT")
	assert.NotContains(t, DialectPostgres.Normalize(ddl), "{{AUTOINCREMENT}}")
}

func TestNormalizeIfNotExists(t *testing.T) {
	t.Parallel()

	ddl := "CREATE TABLE " + TokenIfNotExists + "people (id INTEGER)"

	assert.Equal(t, "CREATE TABLE IF NOT EXISTS people (id INTEGER)", DialectSQLite.Normalize(ddl))
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS people (id INTEGER)", DialectPostgres.Normalize(ddl))
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS people (id INT)", DialectMySQL.Normalize(ddl))

	// MS SQL's CREATE TABLE doesn't support IF NOT EXISTS; the token is dropped.
	assert.Equal(t, "CREATE TABLE people (id INT)", DialectMSSQL.Normalize(ddl))
}

func TestNormalizeConcatOperator(t *testing.T) {
	t.Parallel()

	ddl := "SELECT first_name || ' ' || last_name FROM people"

	assert.Equal(t, "SELECT first_name + ' ' + last_name FROM people", DialectMSSQL.Normalize(ddl))
	assert.Equal(t, ddl, DialectPostgres.Normalize(ddl))
}

func TestNormalizeDateDiff(t *testing.T) {
	t.Parallel()

	ddl := "SELECT julianday('now')-julianday(encounter_date) FROM encounters"
	want := "SELECT DATEDIFF(day, encounter_date, GETDATE()) FROM encounters"

	assert.Equal(t, want, DialectMSSQL.Normalize(ddl))
	assert.Equal(t, ddl, DialectSQLite.Normalize(ddl))
}

func TestNormalizeColumnTypeWordBoundary(t *testing.T) {
	t.Parallel()

	// "TEXTURE" must not be mangled by a naive substring replace of "TEXT".
	ddl := "CREATE TABLE widgets (texture TEXT)"
	got := DialectMSSQL.Normalize(ddl)

	assert.Contains(t, got, "texture NVARCHAR(MAX)")
	assert.NotContains(t, got, "NVARCHAR(MAX)URE")
}
