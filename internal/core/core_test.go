// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/orchestrator"
)

func testConfig(t *testing.T) domain.CoreConfig {
	t.Helper()
	dbDir := t.TempDir()
	inputDir := t.TempDir()
	return domain.CoreConfig{
		DB:          domain.DatabaseConfig{Engine: "sqlite", Path: filepath.Join(dbDir, "warehouse.db")},
		ETL:         domain.ETLConfig{MaxWorkers: 2, MaxJobHistory: 10},
		Directories: domain.DirectoriesConfig{Input: inputDir, Database: dbDir},
	}
}

func TestInit_BuildsCoreAndAppliesDDL(t *testing.T) {
	c, err := Init(context.Background(), testConfig(t), domain.NoopEventSink{})
	require.NoError(t, err)
	require.NotNil(t, c.Warehouse)
	require.NotNil(t, c.Metadata)
	require.NotNil(t, c.Orchestrator)
	require.Nil(t, c.Puller)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
}

func TestInit_RefusesMalformedSalt(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.FieldsToHash = map[string][]string{"people": {"ssn"}}
	cfg.Security.PHISalt = "too-short"

	_, err := Init(context.Background(), cfg, domain.NoopEventSink{})
	require.Error(t, err)
}

func TestStartJob_UsesConfiguredWatchedDir(t *testing.T) {
	cfg := testConfig(t)
	c, err := Init(context.Background(), cfg, domain.NoopEventSink{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Directories.Input, "people_20250828.txt"),
		[]byte("person_id|first_name|last_name\np1|John|Doe\n"), 0o644))

	jobID, err := c.StartJob(context.Background(), orchestrator.StartOptions{Trigger: domain.TriggerManual, TriggeredBy: "tester"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := c.Orchestrator.GetJob(jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			require.Equal(t, domain.JobCompleted, job.Status)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
}
