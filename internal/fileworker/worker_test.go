// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fileworker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/metadatastore"
	"github.com/chcoord/etl-core/internal/schemacatalog"
)

func newTestDeps(t *testing.T) (Dependencies, *database.DB) {
	t.Helper()
	warehouse, err := database.Open(database.OpenOptions{Engine: "sqlite", SQLitePath: t.TempDir() + "/warehouse.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = warehouse.Close() })

	cat := schemacatalog.New()
	for _, stmt := range cat.DDL(warehouse.Dialect()) {
		_, err := warehouse.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}

	meta, err := metadatastore.Open(context.Background(), t.TempDir()+"/internal.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Dependencies{
		Catalog:   cat,
		Metadata:  meta,
		Warehouse: warehouse,
		Sink:      domain.NoopEventSink{},
		Now:       func() time.Time { return fixed },
	}, warehouse
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_HappyPathUpsert(t *testing.T) {
	// §8 scenario 1.
	deps, _ := newTestDeps(t)
	path := writeFile(t, "chhsca_people_20250828.txt",
		"person_id|first_name|last_name\np1|John|Doe\np2|Jane|Smith\np3|José|García\n")

	task := &domain.FileTask{Path: path, FileName: "chhsca_people_20250828.txt", Table: "people", FileDate: "20250828", ContentHash: "abc", Status: domain.FileTaskPending}

	result := Run(context.Background(), deps, task, "job1", domain.TriggerManual, "operator")
	require.Equal(t, domain.FileTaskCompleted, result.Status)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 3, result.Inserted)
	require.Equal(t, 0, result.Updated)
}

func TestRun_EmptyFileIsSkipped(t *testing.T) {
	deps, _ := newTestDeps(t)
	path := writeFile(t, "people_20250828.txt", "person_id|first_name|last_name\n")

	task := &domain.FileTask{Path: path, FileName: "people_20250828.txt", Table: "people", Status: domain.FileTaskPending}
	result := Run(context.Background(), deps, task, "job1", domain.TriggerManual, "operator")

	require.Equal(t, domain.FileTaskSkipped, result.Status)
	require.Equal(t, "Empty file", result.Error)
}

func TestRun_MissingColumnFailsWithRemediationDDL(t *testing.T) {
	// §8 scenario 4.
	deps, _ := newTestDeps(t)
	path := writeFile(t, "people_20250828.txt", "person_id|first_name\np1|John\n")

	task := &domain.FileTask{Path: path, FileName: "people_20250828.txt", Table: "people", Status: domain.FileTaskPending}
	result := Run(context.Background(), deps, task, "job1", domain.TriggerManual, "operator")

	require.Equal(t, domain.FileTaskFailed, result.Status)
	require.Contains(t, result.Error, "last_name")
}

func TestRun_SkippedTaskNeverTouchesWarehouse(t *testing.T) {
	deps, warehouse := newTestDeps(t)
	task := &domain.FileTask{FileName: "f.txt", Table: "people", Status: domain.FileTaskSkipped}

	result := Run(context.Background(), deps, task, "job1", domain.TriggerManual, "operator")
	require.Equal(t, domain.FileTaskSkipped, result.Status)
	require.Equal(t, 0, result.Loaded)

	var count int
	require.NoError(t, warehouse.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM people").Scan(&count))
	require.Equal(t, 0, count)
}

func TestRun_UnknownTableFailsCleanly(t *testing.T) {
	deps, _ := newTestDeps(t)
	path := writeFile(t, "mystery_20250828.txt", "a|b\n1|2\n")

	task := &domain.FileTask{Path: path, FileName: "mystery_20250828.txt", Table: "unknown_table", Status: domain.FileTaskPending}
	result := Run(context.Background(), deps, task, "job1", domain.TriggerManual, "operator")

	require.Equal(t, domain.FileTaskFailed, result.Status)
}
