// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package schemacatalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
)

func TestRequiredColumnsAndPrimaryKey(t *testing.T) {
	c := New()

	cols, ok := c.RequiredColumns("people")
	require.True(t, ok)
	assert.Contains(t, cols, "person_id")
	assert.Contains(t, cols, "first_name")

	pk, ok := c.PrimaryKey("people")
	require.True(t, ok)
	assert.Equal(t, "person_id", pk)

	_, ok = c.RequiredColumns("unknown_table")
	assert.False(t, ok)
}

func TestDetectDrift_MissingTable(t *testing.T) {
	c := New()
	drifts := c.DetectDrift(database.DialectSQLite, "unknown_table", "f.txt", []string{"a", "b"})
	require.Len(t, drifts, 1)
	assert.Equal(t, domain.DriftMissingTable, drifts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, drifts[0].Severity)
}

func TestDetectDrift_MissingColumn(t *testing.T) {
	c := New()
	drifts := c.DetectDrift(database.DialectSQLite, "people", "f.txt", []string{"person_id", "first_name"})
	require.Len(t, drifts, 1)
	assert.Equal(t, domain.DriftMissingColumn, drifts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, drifts[0].Severity)
	assert.Contains(t, drifts[0].Details, "last_name")
	assert.Contains(t, drifts[0].RemediationDDL, "ALTER TABLE people ADD COLUMN")
}

func TestDetectDrift_ExtraColumnIsWarningOnly(t *testing.T) {
	c := New()
	all := []string{"person_id", "first_name", "last_name", "date_of_birth", "preferred_name", "gender", "zip_code", "extra_field"}
	drifts := c.DetectDrift(database.DialectSQLite, "people", "f.txt", all)
	require.Len(t, drifts, 1)
	assert.Equal(t, domain.DriftExtraColumn, drifts[0].Kind)
	assert.Equal(t, domain.SeverityWarning, drifts[0].Severity)
}

func TestDetectDrift_MissingColumnRemediationMatchesScenario4(t *testing.T) {
	// §8 scenario 4: target `people` lacks `preferred_name`.
	c := New()
	cols := []string{"person_id", "first_name", "last_name", "date_of_birth", "gender", "zip_code"}
	drifts := c.DetectDrift(database.DialectSQLite, "people", "f.txt", cols)
	require.Len(t, drifts, 1)
	assert.Contains(t, drifts[0].Details, "preferred_name")
	assert.Equal(t, "ALTER TABLE people ADD COLUMN preferred_name TEXT;", drifts[0].RemediationDDL)
}

func TestInferColumnTypeHeuristic(t *testing.T) {
	cases := map[string]string{
		"patient_id":     "TEXT",
		"created_at":     "TIMESTAMP",
		"date_enrolled":  "TIMESTAMP",
		"visit_count":    "INT",
		"file_size":      "INT",
		"annual_income":  "REAL",
		"copay_amount":   "REAL",
		"unit_price":     "REAL",
		"something_else": "TEXT",
	}
	for col, want := range cases {
		assert.Equal(t, want, inferColumnType(col), "column %s", col)
	}
}

func TestDDLRendersAllDialects(t *testing.T) {
	c := New()
	for _, dialect := range []database.Dialect{database.DialectSQLite, database.DialectMSSQL, database.DialectPostgres, database.DialectMySQL} {
		stmts := c.DDL(dialect)
		require.Len(t, stmts, len(c.Tables()))
		for _, stmt := range stmts {
			assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE"))
			assert.NotContains(t, stmt, "{{")
		}
	}
}
