// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rowcleaner is the Row Cleaner (C6): whitespace trim, mojibake
// fixes, empty-row removal, and PHI hashing of a column-oriented table of
// strings, per §4.6.
package rowcleaner

import (
	"strconv"
	"strings"
	"time"

	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/phihash"
)

// mojibakeReplacements fixes the CP1252-via-UTF-8 mojibake patterns named
// in §4.6 step 3: UTF-8 punctuation bytes misread as Windows-1252 and
// re-encoded, producing "â€..." runs. Longer sequences are matched
// before their shorter prefixes.
var mojibakeReplacements = []struct {
	from, to string
}{
	{"â€™", "'"},
	{"â€œ", "\""},
	{"â€", "\""},
}

// Clean runs the four-step cleaning pipeline of §4.6 over rows (one
// map[column]value per input record) for table/file, returning the
// surviving rows and the DataQualityIssue events raised along the way.
// The cleaner never rejects rows for bad values and never increases row
// count; only step 1 (empty-row removal) can shrink it.
func Clean(table, file string, rows []map[string]string, hasher *phihash.Hasher, now func() time.Time) ([]map[string]string, []domain.DataQualityIssue) {
	if now == nil {
		now = time.Now
	}

	var issues []domain.DataQualityIssue

	kept, removed := dropEmptyRows(rows)
	if removed > 0 {
		issues = append(issues, domain.DataQualityIssue{
			Table:       table,
			File:        file,
			Kind:        "empty_rows",
			Description: itoaPlural(removed, "empty row", "empty rows") + " removed",
			DetectedAt:  now(),
		})
	}

	for _, row := range kept {
		trimAndNormalize(row)
	}

	hashedCols := applyHashing(table, kept, hasher)
	if len(hashedCols) > 0 {
		issues = append(issues, domain.DataQualityIssue{
			Table:       table,
			File:        file,
			Kind:        "phi_hashing",
			Description: "hashed columns: " + strings.Join(hashedCols, ", "),
			DetectedAt:  now(),
		})
	}

	return kept, issues
}

// dropEmptyRows removes rows where every cell is empty or null, per §4.6
// step 1.
func dropEmptyRows(rows []map[string]string) ([]map[string]string, int) {
	var kept []map[string]string
	removed := 0
	for _, row := range rows {
		if isEmptyRow(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	return kept, removed
}

func isEmptyRow(row map[string]string) bool {
	for _, v := range row {
		if !isNullMarker(v) {
			return false
		}
	}
	return true
}

// isNullMarker recognizes the null markers named in §6: empty, NULL,
// null, None.
func isNullMarker(v string) bool {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return true
	}
	switch strings.ToLower(trimmed) {
	case "null", "none":
		return true
	default:
		return false
	}
}

// trimAndNormalize applies §4.6 steps 2-3 in place: whitespace trim, then
// mojibake substitution and literal "nan" -> null (represented as empty
// string, matching the cleaner's string-carrying contract).
func trimAndNormalize(row map[string]string) {
	for col, v := range row {
		v = strings.TrimSpace(v)
		for _, repl := range mojibakeReplacements {
			v = strings.ReplaceAll(v, repl.from, repl.to)
		}
		if strings.EqualFold(v, "nan") {
			v = ""
		}
		row[col] = v
	}
}

// applyHashing runs the PHI Hasher over every configured column present
// in this batch, per §4.6 step 4 / §4.5: missing columns are silently
// ignored. Returns the sorted list of columns actually hashed, for the
// single phi_hashing issue.
func applyHashing(table string, rows []map[string]string, hasher *phihash.Hasher) []string {
	if hasher == nil || len(rows) == 0 {
		return nil
	}

	var hashedCols []string
	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			if !hasher.ShouldHash(table, col) {
				continue
			}
			if _, already := seen[col]; !already {
				seen[col] = struct{}{}
				hashedCols = append(hashedCols, col)
			}
			row[col] = hasher.HashValue(row[col])
		}
	}
	return hashedCols
}

func itoaPlural(n int, singular, plural string) string {
	word := plural
	if n == 1 {
		word = singular
	}
	return strconv.Itoa(n) + " " + word
}
