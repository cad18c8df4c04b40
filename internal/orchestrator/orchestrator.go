// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator is the Job Orchestrator (C9): it owns job
// lifecycle, a bounded worker pool, per-table task serialization, and
// cancellation, per §4.9/§5. Its registry shape is grounded on
// autobrr/qui's dirscan Service: one RWMutex guarding maps of active
// state plus a bounded terminated-job history.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chcoord/etl-core/internal/discovery"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/errs"
	"github.com/chcoord/etl-core/internal/fileworker"
	"github.com/chcoord/etl-core/internal/metadatastore"
)

const defaultMaxJobHistory = 100

// StartOptions configures one job submission, per §4.9's StartJob opts.
type StartOptions struct {
	WatchedDir      string
	FileTableMap    map[string]string
	IgnoredPrefixes []string
	FilePatterns    []string

	ForceReprocess bool
	LatestOnly     bool
	SelectedFiles  []string

	MaxWorkers int

	Trigger     domain.JobTrigger
	TriggeredBy string
}

// Subscriber receives the job's *domain.JobProgress each time the
// orchestrator publishes it: when the job starts, after each file
// finishes, and when the job terminates. Per-file, audit and schema-drift
// events go to the EventSink only, not to subscribers.
type Subscriber func(event any)

// Orchestrator owns the set of active and recently-terminated jobs and
// dispatches File Workers for each, per §4.9.
type Orchestrator struct {
	deps fileworker.Dependencies

	maxJobHistory int

	mu          sync.RWMutex
	activeJobs  map[string]*domain.JobProgress
	cancelFuncs map[string]context.CancelFunc
	history     []*domain.JobProgress
	subscribers []Subscriber
}

// New builds an Orchestrator that dispatches File Workers using deps.
// maxJobHistory <= 0 defaults to 100, per §3.2.
func New(deps fileworker.Dependencies, maxJobHistory int) *Orchestrator {
	if maxJobHistory <= 0 {
		maxJobHistory = defaultMaxJobHistory
	}
	return &Orchestrator{
		deps:          deps,
		maxJobHistory: maxJobHistory,
		activeJobs:    make(map[string]*domain.JobProgress),
		cancelFuncs:   make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.deps.Now != nil {
		return o.deps.Now()
	}
	return time.Now()
}

// Subscribe registers cb to receive every event the orchestrator emits.
func (o *Orchestrator) Subscribe(cb Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, cb)
}

func (o *Orchestrator) publish(event any) {
	o.mu.RLock()
	subs := append([]Subscriber(nil), o.subscribers...)
	o.mu.RUnlock()
	for _, cb := range subs {
		cb(event)
	}
}

// StartJob discovers matching files under opts.WatchedDir, registers a
// new job, and launches its run asynchronously, returning the job id
// immediately, per §4.9 step 1.
func (o *Orchestrator) StartJob(ctx context.Context, opts StartOptions) (string, error) {
	processed := make(map[domain.FileFingerprint]struct{})
	if !opts.ForceReprocess && o.deps.Metadata != nil {
		fp, err := o.deps.Metadata.ProcessedFingerprints(ctx)
		if err != nil {
			return "", fmt.Errorf("load processed fingerprints: %w", err)
		}
		processed = fp
	}

	tasks, err := discovery.Discover(discovery.Options{
		WatchedDir:      opts.WatchedDir,
		FileTableMap:    opts.FileTableMap,
		IgnoredPrefixes: opts.IgnoredPrefixes,
		FilePatterns:    opts.FilePatterns,
		ForceReprocess:  opts.ForceReprocess,
		LatestOnly:      opts.LatestOnly,
		SelectedFiles:   opts.SelectedFiles,
		Processed:       processed,
	})
	if err != nil {
		return "", fmt.Errorf("discover files: %w", err)
	}

	jobID := uuid.NewString()
	now := o.now()
	job := &domain.JobProgress{
		JobID:      jobID,
		Status:     domain.JobRunning,
		TotalFiles: len(tasks),
		Trigger:    opts.Trigger,
		TriggeredBy: opts.TriggeredBy,
		StartedAt:  &now,
		Files:      tasks,
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.activeJobs[jobID] = job
	o.cancelFuncs[jobID] = cancel
	o.mu.Unlock()

	if o.deps.Metadata != nil {
		record := metadatastore.JobRecord{
			JobID: jobID, Status: domain.JobRunning, Trigger: opts.Trigger,
			TriggeredBy: opts.TriggeredBy, StartTime: &now, TotalFiles: len(tasks),
			Username: opts.TriggeredBy,
		}
		if err := o.deps.Metadata.StartJobRecord(ctx, record); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("orchestrator: failed to persist job start record")
		}
	}

	o.emitAudit(domain.AuditEntry{Action: domain.AuditJobStarted, JobID: jobID, Details: fmt.Sprintf("%d files", len(tasks)), Timestamp: now})
	o.publish(job)

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	go o.run(runCtx, job, maxWorkers)

	return jobID, nil
}

// run drives one job to completion: tasks sharing a table are serialized
// (§5: "implementations MUST serialize tasks with the same table within a
// job"); tasks across different tables run concurrently, bounded by
// maxWorkers.
func (o *Orchestrator) run(ctx context.Context, job *domain.JobProgress, maxWorkers int) {
	byTable := make(map[string][]*domain.FileTask)
	var tableOrder []string
	for _, t := range job.Files {
		if _, seen := byTable[t.Table]; !seen {
			tableOrder = append(tableOrder, t.Table)
		}
		byTable[t.Table] = append(byTable[t.Table], t)
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, table := range tableOrder {
		tasks := byTable[table]
		wg.Add(1)
		go func(tasks []*domain.FileTask) {
			defer wg.Done()
			for _, task := range tasks {
				select {
				case <-ctx.Done():
					// Leave the task pending in job.Files: §8 scenario 6
					// requires undispatched tasks stay pending, not
					// skipped, and must not count toward completion%.
					continue
				case sem <- struct{}{}:
				}

				// A dispatched task runs to completion even if ctx is
				// cancelled meanwhile.
				result := fileworker.Run(context.WithoutCancel(ctx), o.deps, task, job.JobID, job.Trigger, job.TriggeredBy)
				<-sem

				o.recordCompletion(job, result)
			}
		}(tasks)
	}

	wg.Wait()
	o.finish(ctx, job)
}

// recordCompletion updates the shared job counters under lock and
// publishes progress, per §4.9 step 4 / I4.
func (o *Orchestrator) recordCompletion(job *domain.JobProgress, task *domain.FileTask) {
	o.mu.Lock()
	switch task.Status {
	case domain.FileTaskCompleted:
		job.CompletedFiles++
		job.TotalRecordsLoaded += task.Loaded
	case domain.FileTaskFailed:
		job.FailedFiles++
		job.Errors = append(job.Errors, fmt.Sprintf("%s: %s", task.FileName, task.Error))
	case domain.FileTaskSkipped:
		job.SkippedFiles++
	}
	o.mu.Unlock()

	o.publish(job)
	if o.deps.Sink != nil {
		o.deps.Sink.EmitProgress(job)
	}
}

// finish determines the job's terminal status per §4.9 step 4's priority
// (cancelled > failed > completed), persists it, and moves it from
// active into bounded history.
func (o *Orchestrator) finish(ctx context.Context, job *domain.JobProgress) {
	o.mu.Lock()
	delete(o.cancelFuncs, job.JobID)
	o.mu.Unlock()

	now := o.now()
	job.EndedAt = &now

	switch {
	case ctx.Err() != nil:
		job.Status = domain.JobCancelled
	case job.FailedFiles > 0:
		job.Status = domain.JobFailed
	default:
		job.Status = domain.JobCompleted
	}

	if o.deps.Metadata != nil {
		// ctx is already done for a cancelled job; persist regardless.
		o.persist(context.WithoutCancel(ctx), job)
	}

	action := domain.AuditJobCompleted
	if job.Status == domain.JobCancelled {
		action = domain.AuditJobCancelled
	}
	o.emitAudit(domain.AuditEntry{Action: action, JobID: job.JobID, Details: fmt.Sprintf("completed=%d failed=%d skipped=%d", job.CompletedFiles, job.FailedFiles, job.SkippedFiles), Timestamp: now})

	o.mu.Lock()
	delete(o.activeJobs, job.JobID)
	o.history = append(o.history, job)
	if len(o.history) > o.maxJobHistory {
		o.history = o.history[len(o.history)-o.maxJobHistory:]
	}
	o.mu.Unlock()

	o.publish(job)
}

func (o *Orchestrator) persist(ctx context.Context, job *domain.JobProgress) {
	files := make([]metadatastore.JobFileRecord, 0, len(job.Files))
	for _, t := range job.Files {
		var elapsed float64
		if t.StartedAt != nil && t.EndedAt != nil {
			elapsed = t.EndedAt.Sub(*t.StartedAt).Seconds()
		}
		files = append(files, metadatastore.JobFileRecord{
			JobID: job.JobID, Filename: t.FileName, Table: t.Table, Status: t.Status,
			Processed: t.Processed, Loaded: t.Loaded, Inserted: t.Inserted, Updated: t.Updated,
			Skipped: t.Skipped, Issues: t.Issues, ErrorMessage: t.Error, ElapsedSec: elapsed,
		})
	}

	record := metadatastore.JobRecord{
		JobID: job.JobID, Status: job.Status, Trigger: job.Trigger, TriggeredBy: job.TriggeredBy,
		StartTime: job.StartedAt, EndTime: job.EndedAt, TotalFiles: job.TotalFiles,
		CompletedFiles: job.CompletedFiles, FailedFiles: job.FailedFiles, SkippedFiles: job.SkippedFiles,
		TotalRecordsLoaded: job.TotalRecordsLoaded, Username: job.TriggeredBy,
	}
	if len(job.Errors) > 0 {
		record.ErrorMessage = job.Errors[0]
	}

	if err := o.deps.Metadata.SaveJob(ctx, record, files); err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("orchestrator: failed to persist job completion")
	}
}

// CancelJob signals job_id's run context to stop dispatching new tasks;
// in-flight File Workers run to completion, per §4.9's cancellation
// semantics and §7.
func (o *Orchestrator) CancelJob(jobID string) error {
	o.mu.Lock()
	cancel, ok := o.cancelFuncs[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrJobNotActive, jobID)
	}
	cancel()
	return nil
}

// GetActiveJobs returns a snapshot of all currently running jobs.
func (o *Orchestrator) GetActiveJobs() []*domain.JobProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*domain.JobProgress, 0, len(o.activeJobs))
	for _, j := range o.activeJobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out
}

// GetJob returns the job by id, active or historical.
func (o *Orchestrator) GetJob(jobID string) (*domain.JobProgress, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if j, ok := o.activeJobs[jobID]; ok {
		return j, nil
	}
	for _, j := range o.history {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrJobNotFound, jobID)
}

// GetJobHistory returns up to limit most-recent terminated jobs, newest first.
func (o *Orchestrator) GetJobHistory(limit int) []*domain.JobProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := len(o.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.JobProgress, limit)
	for i := 0; i < limit; i++ {
		out[i] = o.history[n-1-i]
	}
	return out
}

func (o *Orchestrator) emitAudit(entry domain.AuditEntry) {
	if o.deps.Sink != nil {
		o.deps.Sink.EmitAudit(entry)
	}
}

// Shutdown cancels every active job and waits up to grace for their
// in-flight File Workers to finish, per §6's process lifecycle.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.mu.RLock()
	ids := make([]string, 0, len(o.cancelFuncs))
	for id := range o.cancelFuncs {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		_ = o.CancelJob(id)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		o.mu.RLock()
		remaining := len(o.activeJobs)
		o.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
