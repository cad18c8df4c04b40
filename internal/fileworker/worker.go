// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fileworker is the File Worker (C8): reads one file, runs
// validate -> clean -> hash -> upsert, and reports the outcome, per §4.8.
// Per §9's "replace exceptions with step functions" guidance, the worker
// is a linear chain of step functions, each returning (*WorkerState, error)
// instead of raising.
package fileworker

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/errs"
	"github.com/chcoord/etl-core/internal/metadatastore"
	"github.com/chcoord/etl-core/internal/phihash"
	"github.com/chcoord/etl-core/internal/repository"
	"github.com/chcoord/etl-core/internal/rowcleaner"
	"github.com/chcoord/etl-core/internal/schemacatalog"
)

// Dependencies are the leaf collaborators a worker needs, all injected
// per §9's "no module-level globals" guidance.
type Dependencies struct {
	Catalog   *schemacatalog.Catalog
	Hasher    *phihash.Hasher
	Metadata  *metadatastore.Store
	Warehouse *database.DB
	Sink      domain.EventSink
	Now       func() time.Time
}

func (d Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// WorkerState threads through the step chain. Only the owning worker
// goroutine touches it (§3.2: "mutated only by the owning File Worker").
type WorkerState struct {
	Task        *domain.FileTask
	JobID       string
	Trigger     domain.JobTrigger
	TriggeredBy string

	Header  []string
	RawRows [][]string

	Table      schemacatalog.TableDef
	TableKnown bool
	Drifts     []domain.SchemaDrift

	CleanedRows []map[string]string
	Issues      []domain.DataQualityIssue

	Result repository.InsertResult
}

type step func(ctx context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error)

// Run processes one FileTask end to end and returns the terminal task.
// Run never panics across its API: any panic or adapter error is caught
// and converted to status=failed with an error string, per §4.8's final
// clause and §7's propagation rule.
func Run(ctx context.Context, deps Dependencies, task *domain.FileTask, jobID string, trigger domain.JobTrigger, triggeredBy string) (result *domain.FileTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("file", task.FileName).Bytes("stack", debug.Stack()).Msg("fileworker: recovered panic")
			task.Status = domain.FileTaskFailed
			task.Error = fmt.Sprintf("internal error: %v", r)
			endTask(task, deps)
			result = task
		}
	}()

	if task.Status == domain.FileTaskSkipped {
		emitSkippedAudit(deps, jobID, task)
		return task
	}

	state := &WorkerState{Task: task, JobID: jobID, Trigger: trigger, TriggeredBy: triggeredBy}

	chain := []step{
		stepMarkProcessing,
		stepReadFile,
		stepValidateSchema,
		stepClean,
		stepLoad,
	}

	var err error
	for _, fn := range chain {
		state, err = fn(ctx, deps, state)
		if err != nil {
			finalizeFailure(ctx, deps, state, err)
			return state.Task
		}
		if state.Task.Status == domain.FileTaskSkipped || state.Task.Status == domain.FileTaskFailed {
			// A step decided the terminal status itself (empty file,
			// schema drift) and already finalized metadata/audit.
			return state.Task
		}
	}

	finalizeSuccess(ctx, deps, state)
	return state.Task
}

// stepMarkProcessing implements §4.8 step 1: mark processing, record
// started_at, write the metadata row.
func stepMarkProcessing(ctx context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error) {
	now := deps.now()
	s.Task.Status = domain.FileTaskProcessing
	s.Task.StartedAt = &now

	if deps.Metadata != nil {
		if err := deps.Metadata.BeginFileProcessing(ctx, s.Task.FileName, s.Task.Table, s.Task.FileDate, s.Task.ContentHash, s.Trigger, s.TriggeredBy, now); err != nil {
			return s, fmt.Errorf("%w: %v", errs.ErrRepo, err)
		}
	}
	emitTaskUpdate(deps, s.Task)
	return s, nil
}

// stepReadFile implements §4.8 step 2: read the file, trying encodings
// in order; zero rows after header is a skip, not a failure.
func stepReadFile(_ context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error) {
	header, rows, err := readDelimitedFile(s.Task.Path)
	if err != nil {
		return s, err
	}

	if len(rows) == 0 {
		s.Task.Status = domain.FileTaskSkipped
		s.Task.Error = "Empty file"
		endTask(s.Task, deps)
		finalizeSkipEmptyFile(nil, deps, s)
		return s, nil
	}

	s.Header = header
	s.RawRows = rows
	return s, nil
}

// finalizeSkipEmptyFile closes out the metadata row and audit event for
// an empty-file skip, without going through the success/failure paths
// (neither applies: §4.8 step 2 treats it as its own terminal case).
func finalizeSkipEmptyFile(_ context.Context, deps Dependencies, s *WorkerState) {
	if deps.Metadata != nil {
		_ = deps.Metadata.CompleteFileProcessing(context.Background(), s.Task.FileName, "failed", 0, 0, 0, s.Task.Error, deps.now())
	}
	emitAudit(deps, domain.AuditEntry{
		Action: domain.AuditFileFailed, Table: s.Task.Table, File: s.Task.FileName,
		JobID: s.JobID, Details: s.Task.Error, Timestamp: deps.now(),
	})
	emitTaskUpdate(deps, s.Task)
}

// stepValidateSchema implements §4.8 step 3: detect drift against the
// Schema Catalog. missing_table/missing_column drift fails the file;
// extra_column drift is warning-only and does not fail it.
func stepValidateSchema(ctx context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error) {
	table, known := deps.Catalog.Table(s.Task.Table)
	s.Table = table
	s.TableKnown = known

	drifts := deps.Catalog.DetectDrift(deps.Warehouse.Dialect(), s.Task.Table, s.Task.FileName, s.Header)
	s.Drifts = drifts

	var critical []domain.SchemaDrift
	for _, d := range drifts {
		if deps.Metadata != nil {
			if err := deps.Metadata.RecordSchemaDrift(ctx, d); err != nil {
				log.Warn().Err(err).Msg("fileworker: failed to persist schema drift")
			}
		}
		emitSchemaDrift(deps, d)
		if d.Severity == domain.SeverityCritical {
			critical = append(critical, d)
		}
	}

	if len(critical) > 0 {
		var details []string
		var ddl []string
		for _, d := range critical {
			details = append(details, d.Details)
			ddl = append(ddl, d.RemediationDDL)
		}
		s.Task.Status = domain.FileTaskFailed
		s.Task.Error = fmt.Sprintf("schema drift: %s; remediation: %s", strings.Join(details, "; "), strings.Join(ddl, " "))
		endTask(s.Task, deps)
		finalizeDriftFailure(deps, s)
		return s, nil
	}

	return s, nil
}

func finalizeDriftFailure(deps Dependencies, s *WorkerState) {
	if deps.Metadata != nil {
		_ = deps.Metadata.CompleteFileProcessing(context.Background(), s.Task.FileName, "failed", 0, 0, 0, s.Task.Error, deps.now())
	}
	emitAudit(deps, domain.AuditEntry{
		Action: domain.AuditFileFailed, Table: s.Task.Table, File: s.Task.FileName,
		JobID: s.JobID, Details: s.Task.Error, Timestamp: deps.now(),
	})
	emitTaskUpdate(deps, s.Task)
}

// stepClean implements §4.8 step 4: run the Row Cleaner, record issue
// counts.
func stepClean(_ context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error) {
	rows := make([]map[string]string, len(s.RawRows))
	for i, record := range s.RawRows {
		row := make(map[string]string, len(s.Header))
		for j, col := range s.Header {
			if j < len(record) {
				row[col] = record[j]
			} else {
				row[col] = ""
			}
		}
		rows[i] = row
	}

	cleaned, issues := rowcleaner.Clean(s.Task.Table, s.Task.FileName, rows, deps.Hasher, deps.Now)
	s.CleanedRows = cleaned
	s.Issues = issues
	s.Task.Issues = len(issues)
	s.Task.Processed = len(cleaned)

	for _, issue := range issues {
		if deps.Metadata != nil {
			if err := deps.Metadata.RecordDataQualityIssue(context.Background(), issue); err != nil {
				log.Warn().Err(err).Msg("fileworker: failed to persist data quality issue")
			}
		}
	}

	return s, nil
}

// stepLoad implements §4.8 step 5: upsert if a primary key is configured
// and present, else append.
func stepLoad(ctx context.Context, deps Dependencies, s *WorkerState) (*WorkerState, error) {
	if !s.TableKnown {
		return s, fmt.Errorf("%w: table %q has no repository binding", errs.ErrRepo, s.Task.Table)
	}

	rows := make([]repository.Row, len(s.CleanedRows))
	for i, r := range s.CleanedRows {
		rows[i] = repository.Row(r)
	}

	repo := repository.New(deps.Warehouse, s.Table, deps.Now)

	pk, hasPK := s.Table.PrimaryKey()
	rowsHavePK := hasPK && rowsContainColumn(rows, pk)

	var (
		res repository.InsertResult
		err error
	)
	if rowsHavePK {
		res, err = repo.UpsertByPrimaryKey(ctx, deps.Warehouse.Dialect(), rows, pk)
	} else {
		res, err = repo.InsertBatch(ctx, deps.Warehouse.Dialect(), rows)
	}
	if err != nil {
		return s, fmt.Errorf("%w: %v", errs.ErrRepo, err)
	}

	s.Result = res
	s.Task.Loaded = res.Total
	s.Task.Inserted = res.Inserted
	s.Task.Updated = res.Updated
	s.Task.Skipped = res.Skipped

	return s, nil
}

func rowsContainColumn(rows []repository.Row, col string) bool {
	for _, row := range rows {
		if _, ok := row[col]; ok {
			return true
		}
	}
	return false
}

// finalizeFailure implements §4.8 step 6's failed branch and §7's
// propagation rule: the worker never escapes an error; it records the
// message and closes the metadata row as failed.
func finalizeFailure(ctx context.Context, deps Dependencies, s *WorkerState, cause error) {
	s.Task.Status = domain.FileTaskFailed
	s.Task.Error = cause.Error()
	endTask(s.Task, deps)

	if deps.Metadata != nil {
		if err := deps.Metadata.CompleteFileProcessing(ctx, s.Task.FileName, "failed", s.Task.Processed, 0, 0, s.Task.Error, deps.now()); err != nil {
			log.Warn().Err(err).Msg("fileworker: failed to close metadata row after failure")
		}
	}
	emitAudit(deps, domain.AuditEntry{
		Action: domain.AuditFileFailed, Table: s.Task.Table, File: s.Task.FileName,
		JobID: s.JobID, Details: s.Task.Error, Timestamp: deps.now(),
	})
	emitTaskUpdate(deps, s.Task)
}

// finalizeSuccess implements §4.8 step 6's success branch.
func finalizeSuccess(ctx context.Context, deps Dependencies, s *WorkerState) {
	s.Task.Status = domain.FileTaskCompleted
	endTask(s.Task, deps)

	if deps.Metadata != nil {
		if err := deps.Metadata.CompleteFileProcessing(ctx, s.Task.FileName, "success", s.Task.Processed, s.Task.Inserted, s.Task.Updated, "", deps.now()); err != nil {
			log.Warn().Err(err).Msg("fileworker: failed to close metadata row after success")
		}
	}
	emitAudit(deps, domain.AuditEntry{
		Action: domain.AuditFileCompleted, Table: s.Task.Table, File: s.Task.FileName,
		JobID: s.JobID, Details: fmt.Sprintf("inserted=%d updated=%d", s.Task.Inserted, s.Task.Updated), Timestamp: deps.now(),
	})
	emitTaskUpdate(deps, s.Task)
}

func endTask(task *domain.FileTask, deps Dependencies) {
	now := deps.now()
	task.EndedAt = &now
}

func emitSkippedAudit(deps Dependencies, jobID string, task *domain.FileTask) {
	emitAudit(deps, domain.AuditEntry{
		Action: domain.AuditFileSkipped, Table: task.Table, File: task.FileName,
		JobID: jobID, Details: "File already processed", Timestamp: deps.now(),
	})
	emitTaskUpdate(deps, task)
}

func emitAudit(deps Dependencies, entry domain.AuditEntry) {
	if deps.Sink != nil {
		deps.Sink.EmitAudit(entry)
	}
}

func emitTaskUpdate(deps Dependencies, task *domain.FileTask) {
	if deps.Sink != nil {
		deps.Sink.EmitTaskUpdate(task)
	}
}

func emitSchemaDrift(deps Dependencies, drift domain.SchemaDrift) {
	if deps.Sink != nil {
		deps.Sink.EmitSchemaDrift(drift)
	}
}
