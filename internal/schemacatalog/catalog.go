// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package schemacatalog is the Schema Catalog (C2): a single canonical IR
// for the warehouse schema, rendered per-dialect by internal/database, plus
// drift detection and remediation DDL generation (§4.2).
package schemacatalog

import (
	"fmt"
	"strings"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
)

// ColumnDef is one column in a canonical table definition. Type is one of
// the dialect-neutral tokens named in §3.1: TEXT, INT, REAL, TIMESTAMP,
// DATE, BOOL.
type ColumnDef struct {
	Name      string
	Type      string
	PrimaryKey bool
}

// TableDef is one canonical warehouse table (§3.1). Tables carry no
// foreign keys; cross-table joins are advisory only.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// PrimaryKey returns the name of the table's primary key column, if any.
func (t TableDef) PrimaryKey() (string, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c.Name, true
		}
	}
	return "", false
}

// ColumnNames returns the table's declared column names, in order.
func (t TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// auditColumns are appended to every table by the Repository, not declared
// by the catalog itself (§3.1: "two audit columns etl_loaded_at,
// etl_updated_at added automatically by the Repository").
const (
	ColumnLoadedAt  = "etl_loaded_at"
	ColumnUpdatedAt = "etl_updated_at"
)

// Catalog holds the canonical definitions of every warehouse table.
type Catalog struct {
	tables map[string]TableDef
	order  []string
}

// New builds a Catalog from the built-in five-table warehouse schema
// (people, cases, referrals, encounters, services — a supplemented,
// richer set than spec.md §8's single `people` scenario table, so the
// Repository and PHI Hasher have real multi-table PHI join scenarios
// per §8 scenario 5).
func New() *Catalog {
	c := &Catalog{tables: make(map[string]TableDef)}
	for _, t := range builtinTables() {
		c.tables[t.Name] = t
		c.order = append(c.order, t.Name)
	}
	return c
}

func builtinTables() []TableDef {
	return []TableDef{
		{
			Name: "people",
			Columns: []ColumnDef{
				{Name: "person_id", Type: "TEXT", PrimaryKey: true},
				{Name: "first_name", Type: "TEXT"},
				{Name: "last_name", Type: "TEXT"},
				{Name: "date_of_birth", Type: "DATE"},
				{Name: "preferred_name", Type: "TEXT"},
				{Name: "gender", Type: "TEXT"},
				{Name: "zip_code", Type: "TEXT"},
			},
		},
		{
			Name: "cases",
			Columns: []ColumnDef{
				{Name: "case_id", Type: "TEXT", PrimaryKey: true},
				{Name: "person_id", Type: "TEXT"},
				{Name: "case_type", Type: "TEXT"},
				{Name: "opened_date", Type: "DATE"},
				{Name: "closed_date", Type: "DATE"},
				{Name: "status", Type: "TEXT"},
			},
		},
		{
			Name: "referrals",
			Columns: []ColumnDef{
				{Name: "referral_id", Type: "TEXT", PrimaryKey: true},
				{Name: "person_id", Type: "TEXT"},
				{Name: "referred_to", Type: "TEXT"},
				{Name: "referral_date", Type: "DATE"},
				{Name: "reason", Type: "TEXT"},
			},
		},
		{
			Name: "encounters",
			Columns: []ColumnDef{
				{Name: "encounter_id", Type: "TEXT", PrimaryKey: true},
				{Name: "person_id", Type: "TEXT"},
				{Name: "encounter_date", Type: "TIMESTAMP"},
				{Name: "encounter_type", Type: "TEXT"},
				{Name: "provider", Type: "TEXT"},
				{Name: "notes", Type: "TEXT"},
			},
		},
		{
			Name: "services",
			Columns: []ColumnDef{
				{Name: "service_id", Type: "TEXT", PrimaryKey: true},
				{Name: "person_id", Type: "TEXT"},
				{Name: "service_type", Type: "TEXT"},
				{Name: "service_date", Type: "DATE"},
				{Name: "units", Type: "INT"},
				{Name: "cost", Type: "REAL"},
			},
		},
	}
}

// Table looks up a canonical table definition by name.
func (c *Catalog) Table(name string) (TableDef, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns all canonical table definitions, in declaration order.
func (c *Catalog) Tables() []TableDef {
	out := make([]TableDef, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tables[name])
	}
	return out
}

// RequiredColumns returns the ordered column names a table must carry.
func (c *Catalog) RequiredColumns(table string) ([]string, bool) {
	t, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	return t.ColumnNames(), true
}

// PrimaryKey returns the primary key column name of table, if declared.
func (c *Catalog) PrimaryKey(table string) (string, bool) {
	t, ok := c.tables[table]
	if !ok {
		return "", false
	}
	return t.PrimaryKey()
}

// CreateTableDDL renders one table's canonical CREATE TABLE statement,
// using canonical type tokens and the {{AUTOINCREMENT}}/{{IF_NOT_EXISTS}}
// markers that database.Normalize rewrites per dialect.
func CreateTableDDL(t TableDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE {{IF_NOT_EXISTS}}%s (\n", t.Name)

	lines := make([]string, 0, len(t.Columns)+2)
	for _, col := range t.Columns {
		line := fmt.Sprintf("  %s %s", col.Name, col.Type)
		if col.PrimaryKey {
			line += " PRIMARY KEY"
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("  %s TIMESTAMP", ColumnLoadedAt))
	lines = append(lines, fmt.Sprintf("  %s TIMESTAMP", ColumnUpdatedAt))

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// DDL renders every canonical table's CREATE TABLE statement for the
// given dialect, in declaration order.
func (c *Catalog) DDL(dialect database.Dialect) []string {
	out := make([]string, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, dialect.Normalize(CreateTableDDL(c.tables[name])))
	}
	return out
}

// DetectDrift compares a file's observed columns against the canonical
// definition of table and returns the minimal set of SchemaDrift events
// needed so a subsequent import would succeed, per §4.2.
//
// Unknown tables produce a single missing_table drift. Missing columns
// produce a single missing_column drift listing all of them (severity
// critical). Extra columns produce a single extra_column drift listing
// all of them (severity warning) and do not, on their own, fail the file
// (§4.8 step 3).
func (c *Catalog) DetectDrift(dialect database.Dialect, table, file string, observedColumns []string) []domain.SchemaDrift {
	t, ok := c.tables[table]
	if !ok {
		return []domain.SchemaDrift{{
			Kind:           domain.DriftMissingTable,
			Table:          table,
			File:           file,
			Details:        fmt.Sprintf("table %q is not declared in the warehouse schema catalog", table),
			RemediationDDL: "-- table unknown; no remediation DDL can be generated",
			Severity:       domain.SeverityCritical,
		}}
	}

	observed := make(map[string]struct{}, len(observedColumns))
	for _, col := range observedColumns {
		observed[strings.ToLower(col)] = struct{}{}
	}

	canonical := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		canonical[strings.ToLower(col.Name)] = struct{}{}
	}

	var drifts []domain.SchemaDrift

	var missing []string
	for _, col := range t.Columns {
		if _, ok := observed[strings.ToLower(col.Name)]; !ok {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		drifts = append(drifts, domain.SchemaDrift{
			Kind:           domain.DriftMissingColumn,
			Table:          table,
			File:           file,
			Details:        fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")),
			RemediationDDL: dialect.Normalize(alterAddColumnsDDL(table, missing)),
			Severity:       domain.SeverityCritical,
		})
	}

	var extra []string
	for _, col := range observedColumns {
		if _, ok := canonical[strings.ToLower(col)]; !ok {
			extra = append(extra, col)
		}
	}
	if len(extra) > 0 {
		drifts = append(drifts, domain.SchemaDrift{
			Kind:           domain.DriftExtraColumn,
			Table:          table,
			File:           file,
			Details:        fmt.Sprintf("extra columns: %s", strings.Join(extra, ", ")),
			RemediationDDL: dialect.Normalize(alterAddColumnsDDL(table, extra)),
			Severity:       domain.SeverityWarning,
		})
	}

	return drifts
}

// alterAddColumnsDDL emits one ALTER TABLE ... ADD COLUMN per missing
// column, typed by the naming-convention heuristic of §4.2.
func alterAddColumnsDDL(table string, columns []string) string {
	var b strings.Builder
	for _, col := range columns {
		fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s %s;\n", table, col, inferColumnType(col))
	}
	return strings.TrimRight(b.String(), "\n")
}

// inferColumnType implements §4.2's remediation typing heuristic for
// columns not present in the canonical catalog:
//
//	*_id             -> TEXT
//	*_at / date*     -> TIMESTAMP
//	*_count / *_size -> INT
//	income/amount/price (substring) -> REAL
//	else             -> TEXT
func inferColumnType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_id"):
		return "TEXT"
	case strings.HasSuffix(lower, "_at"), strings.HasPrefix(lower, "date"):
		return "TIMESTAMP"
	case strings.HasSuffix(lower, "_count"), strings.HasSuffix(lower, "_size"):
		return "INT"
	case strings.Contains(lower, "income"), strings.Contains(lower, "amount"), strings.Contains(lower, "price"):
		return "REAL"
	default:
		return "TEXT"
	}
}
