// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/internal.db"
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ProcessedFingerprints(context.Background())
	require.NoError(t, err)
}

func TestBeginAndCompleteFileProcessing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.BeginFileProcessing(ctx, "people_20250828.txt", "people", "20250828", "deadbeef", domain.TriggerManual, "operator", now))
	require.NoError(t, s.CompleteFileProcessing(ctx, "people_20250828.txt", "success", 3, 3, 0, "", now.Add(time.Second)))

	fps, err := s.ProcessedFingerprints(ctx)
	require.NoError(t, err)
	require.Contains(t, fps, domain.FileFingerprint{FileName: "people_20250828.txt", ContentHash: "deadbeef"})
}

func TestBeginFileProcessing_SupersedesPriorEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.BeginFileProcessing(ctx, "f.txt", "people", "20250101", "hash1", domain.TriggerManual, "op", now))
	require.NoError(t, s.CompleteFileProcessing(ctx, "f.txt", "success", 1, 1, 0, "", now))

	require.NoError(t, s.BeginFileProcessing(ctx, "f.txt", "people", "20250102", "hash2", domain.TriggerManual, "op", now))
	fps, err := s.ProcessedFingerprints(ctx)
	require.NoError(t, err)
	// old fingerprint no longer marked success (row was superseded to processing)
	require.NotContains(t, fps, domain.FileFingerprint{FileName: "f.txt", ContentHash: "hash1"})
}

func TestRecover_RewritesStuckJobsAndFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.StartJobRecord(ctx, JobRecord{JobID: "job1", Trigger: domain.TriggerManual, StartTime: &now, TotalFiles: 1}))
	require.NoError(t, s.BeginFileProcessing(ctx, "f.txt", "people", "20250101", "hash1", domain.TriggerManual, "op", now))

	require.NoError(t, s.Recover(ctx))

	history, err := s.GetJobHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.JobFailed, history[0].Status)
	require.Equal(t, restartedDuringJob, history[0].ErrorMessage)

	fps, err := s.ProcessedFingerprints(ctx)
	require.NoError(t, err)
	require.NotContains(t, fps, domain.FileFingerprint{FileName: "f.txt", ContentHash: "hash1"})
}

func TestSaveJob_PersistsFilesAndUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := JobRecord{
		JobID: "job2", Status: domain.JobCompleted, Trigger: domain.TriggerManual,
		StartTime: &now, EndTime: &now, TotalFiles: 1, CompletedFiles: 1, TotalRecordsLoaded: 3,
	}
	files := []JobFileRecord{{JobID: "job2", Filename: "f.txt", Table: "people", Status: domain.FileTaskCompleted, Loaded: 3, Inserted: 3}}

	require.NoError(t, s.SaveJob(ctx, job, files))

	history, err := s.GetJobHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.JobCompleted, history[0].Status)
	require.Equal(t, 3, history[0].TotalRecordsLoaded)
}

func TestRecordSchemaDriftAndQualityIssueAndAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSchemaDrift(ctx, domain.SchemaDrift{
		Kind: domain.DriftMissingColumn, Table: "people", File: "f.txt",
		Details: "missing preferred_name", Severity: domain.SeverityCritical, DetectedAt: time.Now(),
	}))
	require.NoError(t, s.RecordDataQualityIssue(ctx, domain.DataQualityIssue{
		Table: "people", File: "f.txt", Kind: "empty_rows", Description: "1 removed", DetectedAt: time.Now(),
	}))
	require.NoError(t, s.RecordAudit(ctx, domain.AuditEntry{
		Action: domain.AuditFileSkipped, Table: "people", File: "f.txt", Timestamp: time.Now(),
	}))
}
