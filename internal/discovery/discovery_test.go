// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/domain"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseTableFromStem(t *testing.T) {
	assert.Equal(t, "people", parseTableFromStem("SAMPLE_chhsca_people_20250828.txt", defaultIgnoredPrefixes))
	assert.Equal(t, "cases", parseTableFromStem("TEST_cases_20250101.csv", defaultIgnoredPrefixes))
	assert.Equal(t, "people", parseTableFromStem("chhsca_people_20250828.txt", defaultIgnoredPrefixes))
}

func TestResolveDate_FromFilename(t *testing.T) {
	modTime := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	d := resolveDate("SAMPLE_chhsca_people_20250828.txt", modTime)
	assert.Equal(t, "20250828", d)
}

func TestResolveDate_FallsBackToModTime(t *testing.T) {
	modTime := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	d := resolveDate("no_date_here.txt", modTime)
	assert.Equal(t, "20260115", d)
}

func TestDiscover_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "SAMPLE_chhsca_people_20250828.txt", "person_id|first_name|last_name\np1|John|Doe\n")

	tasks, err := Discover(Options{WatchedDir: dir})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "people", tasks[0].Table)
	assert.Equal(t, "20250828", tasks[0].FileDate)
	assert.Equal(t, domain.FileTaskPending, tasks[0].Status)
	assert.Len(t, tasks[0].ContentHash, 32)
}

func TestDiscover_SkipsAlreadyProcessed(t *testing.T) {
	// §8 scenario 3.
	dir := t.TempDir()
	writeFixture(t, dir, "chhsca_people_20250828.txt", "person_id|first_name\np1|John\n")

	tasks, err := Discover(Options{WatchedDir: dir})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	hash := tasks[0].ContentHash

	processed := map[domain.FileFingerprint]struct{}{
		{FileName: "chhsca_people_20250828.txt", ContentHash: hash}: {},
	}

	tasks2, err := Discover(Options{WatchedDir: dir, Processed: processed})
	require.NoError(t, err)
	require.Len(t, tasks2, 1)
	assert.Equal(t, domain.FileTaskSkipped, tasks2[0].Status)
}

func TestDiscover_ForceReprocessIgnoresFingerprints(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "chhsca_people_20250828.txt", "person_id|first_name\np1|John\n")

	tasks, err := Discover(Options{WatchedDir: dir})
	require.NoError(t, err)
	hash := tasks[0].ContentHash

	processed := map[domain.FileFingerprint]struct{}{
		{FileName: "chhsca_people_20250828.txt", ContentHash: hash}: {},
	}

	tasks2, err := Discover(Options{WatchedDir: dir, Processed: processed, ForceReprocess: true})
	require.NoError(t, err)
	require.Len(t, tasks2, 1)
	assert.Equal(t, domain.FileTaskPending, tasks2[0].Status)
}

func TestDiscover_UnknownTableStillEmitsTask(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "20250828.txt", "a|b\n1|2\n")

	tasks, err := Discover(Options{WatchedDir: dir})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, unknownTable, tasks[0].Table)
}

func TestDiscover_LatestOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "people_20250101.txt", "a\n1\n")
	writeFixture(t, dir, "people_20250901.txt", "a\n1\n")
	writeFixture(t, dir, "cases_20250601.txt", "a\n1\n")

	tasks, err := Discover(Options{WatchedDir: dir, LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byTable := map[string]*domain.FileTask{}
	for _, task := range tasks {
		byTable[task.Table] = task
	}
	assert.Equal(t, "20250901", byTable["people"].FileDate)
	assert.Equal(t, "20250601", byTable["cases"].FileDate)
}

func TestDiscover_SelectedFilesFilters(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "people_20250101.txt", "a\n1\n")
	writeFixture(t, dir, "cases_20250101.txt", "a\n1\n")

	tasks, err := Discover(Options{WatchedDir: dir, SelectedFiles: []string{"people_20250101.txt"}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "people_20250101.txt", tasks[0].FileName)
}

func TestDiscover_FileTableMapTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "weird_name_20250101.txt", "a\n1\n")

	tasks, err := Discover(Options{
		WatchedDir:   dir,
		FileTableMap: map[string]string{"weird_name_20250101.txt": "referrals"},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "referrals", tasks[0].Table)
}
