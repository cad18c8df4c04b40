// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metadatastore is the Metadata Store (C4): the durable SQLite
// record of ETL job history, per-file results, processed-file
// fingerprints, schema-drift events, and data-quality issues, per §4.4.
// It always lives at <database_dir>/internal.db, co-located with the
// process, independent of the warehouse dialect.
package metadatastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// restartedDuringJob and interruptedProcessing are the fixed error
// messages the §4.4 startup recoveries write.
const (
	restartedDuringJob    = "server restarted during job execution"
	interruptedProcessing = "processing interrupted"
)

// Store wraps the internal.db SQLite connection and exposes the typed
// operations the Job Orchestrator and File Worker need.
type Store struct {
	db *database.DB
}

// Open opens (creating if absent) the metadata database at path and
// applies any pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.Open(database.OpenOptions{Engine: "sqlite", SQLitePath: path})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename, applied_at) VALUES (?, ?)", name, time.Now().UTC()); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		log.Info().Str("migration", name).Msg("metadatastore: applied migration")
	}

	return nil
}

// Recover performs the two idempotent startup recoveries of §4.4:
// (a) any etl_jobs row left `running` is rewritten `failed`; (b) any
// etl_metadata row left `processing` is rewritten `failed`.
func (s *Store) Recover(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE etl_jobs SET status = 'failed', error_message = ?, end_time = ? WHERE status = 'running'",
		restartedDuringJob, time.Now().UTC()); err != nil {
		return fmt.Errorf("recover stuck jobs: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE etl_metadata SET status = 'failed', error_message = ?, completed_at = ? WHERE status = 'processing'",
		interruptedProcessing, time.Now().UTC()); err != nil {
		return fmt.Errorf("recover stuck file metadata: %w", err)
	}

	return nil
}

// JobRecord is a persisted etl_jobs row.
type JobRecord struct {
	JobID              string
	Status             domain.JobStatus
	Trigger            domain.JobTrigger
	TriggeredBy        string
	StartTime          *time.Time
	EndTime            *time.Time
	TotalFiles         int
	CompletedFiles     int
	FailedFiles        int
	SkippedFiles       int
	TotalRecordsLoaded int
	ErrorMessage       string
	Username           string
}

// JobFileRecord is a persisted etl_job_files row.
type JobFileRecord struct {
	JobID        string
	Filename     string
	Table        string
	Status       domain.FileTaskStatus
	Processed    int
	Loaded       int
	Inserted     int
	Updated      int
	Skipped      int
	Issues       int
	ErrorMessage string
	ElapsedSec   float64
}

// SaveJob persists (inserts or replaces) one job record and the full set
// of its file results, per §4.9 step 5. Called once, at job termination.
func (s *Store) SaveJob(ctx context.Context, job JobRecord, files []JobFileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save job: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO etl_jobs
		(job_id, status, trigger_type, triggered_by, start_time, end_time,
		 total_files, completed_files, failed_files, skipped_files,
		 total_records_loaded, error_message, username, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			completed_files = excluded.completed_files,
			failed_files = excluded.failed_files,
			skipped_files = excluded.skipped_files,
			total_records_loaded = excluded.total_records_loaded,
			error_message = excluded.error_message`,
		job.JobID, string(job.Status), string(job.Trigger), job.TriggeredBy,
		job.StartTime, job.EndTime, job.TotalFiles, job.CompletedFiles, job.FailedFiles,
		job.SkippedFiles, job.TotalRecordsLoaded, job.ErrorMessage, job.Username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.JobID, err)
	}

	for _, f := range files {
		_, err = tx.ExecContext(ctx, `INSERT INTO etl_job_files
			(job_id, filename, table_name, status, processed, loaded, inserted, updated, skipped, issues, error_message, elapsed_sec)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.JobID, f.Filename, f.Table, string(f.Status), f.Processed, f.Loaded,
			f.Inserted, f.Updated, f.Skipped, f.Issues, f.ErrorMessage, f.ElapsedSec)
		if err != nil {
			return fmt.Errorf("save job file %s/%s: %w", f.JobID, f.Filename, err)
		}
	}

	return tx.Commit()
}

// StartJobRecord inserts the initial `running` etl_jobs row at job start,
// so a crash mid-run is recoverable by Recover.
func (s *Store) StartJobRecord(ctx context.Context, job JobRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO etl_jobs
		(job_id, status, trigger_type, triggered_by, start_time, total_files, username, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, string(domain.JobRunning), string(job.Trigger), job.TriggeredBy,
		job.StartTime, job.TotalFiles, job.Username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("start job record %s: %w", job.JobID, err)
	}
	return nil
}

// ProcessedFingerprints returns every (file_name, content_hash) pair
// whose etl_metadata row completed successfully, for File Discovery's
// skip decision (§4.7).
func (s *Store) ProcessedFingerprints(ctx context.Context) (map[domain.FileFingerprint]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_name, file_hash FROM etl_metadata WHERE status = 'success'")
	if err != nil {
		return nil, fmt.Errorf("load processed fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.FileFingerprint]struct{})
	for rows.Next() {
		var fp domain.FileFingerprint
		if err := rows.Scan(&fp.FileName, &fp.ContentHash); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = struct{}{}
	}
	return out, rows.Err()
}

// BeginFileProcessing writes or replaces the etl_metadata row for
// filename with status=processing, per §4.8 step 1. filename is the
// unique key; a re-ingest supersedes the previous entry (§4.4).
func (s *Store) BeginFileProcessing(ctx context.Context, filename, table, fileDate, hash string, trigger domain.JobTrigger, triggeredBy string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO etl_metadata
		(file_name, table_name, file_date, started_at, status, file_hash, trigger_type, triggered_by)
		VALUES (?, ?, ?, ?, 'processing', ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			table_name = excluded.table_name,
			file_date = excluded.file_date,
			started_at = excluded.started_at,
			status = 'processing',
			file_hash = excluded.file_hash,
			trigger_type = excluded.trigger_type,
			triggered_by = excluded.triggered_by,
			completed_at = NULL,
			error_message = NULL`,
		filename, table, fileDate, startedAt, hash, string(trigger), triggeredBy)
	if err != nil {
		return fmt.Errorf("begin file processing %s: %w", filename, err)
	}
	return nil
}

// CompleteFileProcessing closes the etl_metadata row as success or
// failed, per §4.8 step 6 / I3.
func (s *Store) CompleteFileProcessing(ctx context.Context, filename string, status string, processed, inserted, updated int, errMsg string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE etl_metadata SET
		status = ?, records_processed = ?, records_inserted = ?, records_updated = ?,
		error_message = ?, completed_at = ?
		WHERE file_name = ?`,
		status, processed, inserted, updated, errMsg, completedAt, filename)
	if err != nil {
		return fmt.Errorf("complete file processing %s: %w", filename, err)
	}
	return nil
}

// RecordSchemaDrift persists one SchemaDrift event to schema_errors.
func (s *Store) RecordSchemaDrift(ctx context.Context, drift domain.SchemaDrift) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO schema_errors
		(kind, table_name, file_name, details, remediation_ddl, severity, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(drift.Kind), drift.Table, drift.File, drift.Details, drift.RemediationDDL,
		string(drift.Severity), drift.DetectedAt)
	if err != nil {
		return fmt.Errorf("record schema drift for %s/%s: %w", drift.Table, drift.File, err)
	}
	return nil
}

// RecordDataQualityIssue persists one cleaning-step issue.
func (s *Store) RecordDataQualityIssue(ctx context.Context, issue domain.DataQualityIssue) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO data_quality_issues
		(table_name, file_name, kind, description, detected_at)
		VALUES (?, ?, ?, ?, ?)`,
		issue.Table, issue.File, issue.Kind, issue.Description, issue.DetectedAt)
	if err != nil {
		return fmt.Errorf("record data quality issue for %s/%s: %w", issue.Table, issue.File, err)
	}
	return nil
}

// RecordAudit persists one audit-trail event.
func (s *Store) RecordAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sys_audit_trail
		(action, table_name, file_name, job_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.Table, entry.File, entry.JobID, entry.Details, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("record audit entry %s: %w", entry.Action, err)
	}
	return nil
}

// GetJobHistory returns up to limit persisted jobs, most recent first.
func (s *Store) GetJobHistory(ctx context.Context, limit int) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, status, trigger_type, triggered_by, start_time, end_time,
		total_files, completed_files, failed_files, skipped_files, total_records_loaded, error_message, username
		FROM etl_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get job history: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var j JobRecord
		var status, trigger string
		var triggeredBy, errMsg, username sql.NullString
		var start, end sql.NullTime
		if err := rows.Scan(&j.JobID, &status, &trigger, &triggeredBy, &start, &end,
			&j.TotalFiles, &j.CompletedFiles, &j.FailedFiles, &j.SkippedFiles,
			&j.TotalRecordsLoaded, &errMsg, &username); err != nil {
			return nil, fmt.Errorf("scan job history row: %w", err)
		}
		j.Status = domain.JobStatus(status)
		j.Trigger = domain.JobTrigger(trigger)
		j.TriggeredBy = triggeredBy.String
		j.ErrorMessage = errMsg.String
		j.Username = username.String
		if start.Valid {
			j.StartTime = &start.Time
		}
		if end.Valid {
			j.EndTime = &end.Time
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("metadatastore: not found")
