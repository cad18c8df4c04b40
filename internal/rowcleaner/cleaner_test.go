// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rowcleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/phihash"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestClean_DropsEmptyRows(t *testing.T) {
	rows := []map[string]string{
		{"a": "1", "b": "x"},
		{"a": "", "b": "NULL"},
		{"a": "  ", "b": "None"},
	}
	kept, issues := Clean("t", "f.txt", rows, nil, fixedNow)
	require.Len(t, kept, 1)
	require.Len(t, issues, 1)
	assert.Equal(t, "empty_rows", issues[0].Kind)
	assert.Contains(t, issues[0].Description, "2 empty rows")
}

func TestClean_NeverIncreasesRowCount(t *testing.T) {
	rows := []map[string]string{
		{"a": "1"}, {"a": "2"}, {"a": "3"},
	}
	kept, _ := Clean("t", "f.txt", rows, nil, fixedNow)
	assert.LessOrEqual(t, len(kept), len(rows))
}

func TestClean_TrimsWhitespace(t *testing.T) {
	rows := []map[string]string{{"a": "  hello  "}}
	kept, _ := Clean("t", "f.txt", rows, nil, fixedNow)
	require.Len(t, kept, 1)
	assert.Equal(t, "hello", kept[0]["a"])
}

func TestClean_FixesMojibake(t *testing.T) {
	rows := []map[string]string{{"name": "Joséâ€™s"}}
	kept, _ := Clean("t", "f.txt", rows, nil, fixedNow)
	require.Len(t, kept, 1)
	assert.Equal(t, "José's", kept[0]["name"])
}

func TestClean_NanBecomesEmpty(t *testing.T) {
	rows := []map[string]string{{"a": "1", "b": "nan"}}
	kept, _ := Clean("t", "f.txt", rows, nil, fixedNow)
	require.Len(t, kept, 1)
	assert.Equal(t, "", kept[0]["b"])
}

func TestClean_AppliesHashingAndEmitsSingleIssue(t *testing.T) {
	salt := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	h, err := phihash.New(salt, map[string][]string{"people": {"person_id"}})
	require.NoError(t, err)

	rows := []map[string]string{
		{"person_id": "p1", "first_name": "John"},
		{"person_id": "p2", "first_name": "Jane"},
	}
	kept, issues := Clean("people", "f.txt", rows, h, fixedNow)
	require.Len(t, kept, 2)

	wantFirstNames := []string{"John", "Jane"}
	for i, row := range kept {
		assert.Len(t, row["person_id"], 64)
		assert.Equal(t, wantFirstNames[i], row["first_name"], "first_name should be untouched unless configured")
	}

	var phiIssues int
	for _, issue := range issues {
		if issue.Kind == "phi_hashing" {
			phiIssues++
			assert.Contains(t, issue.Description, "person_id")
		}
	}
	assert.Equal(t, 1, phiIssues)
}
