// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package core wires C1-C10 together into one process lifecycle:
// Init builds every collaborator, Start arms the orchestrator, and
// Shutdown drains in-flight jobs, per §6.
package core

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/errs"
	"github.com/chcoord/etl-core/internal/fileworker"
	"github.com/chcoord/etl-core/internal/metadatastore"
	"github.com/chcoord/etl-core/internal/orchestrator"
	"github.com/chcoord/etl-core/internal/phihash"
	"github.com/chcoord/etl-core/internal/schemacatalog"
	"github.com/chcoord/etl-core/internal/sftppuller"
)

// Core holds every long-lived collaborator for one process lifetime.
type Core struct {
	cfg domain.CoreConfig

	Warehouse *database.DB
	Metadata  *metadatastore.Store
	Catalog   *schemacatalog.Catalog
	Hasher    *phihash.Hasher
	Puller    *sftppuller.Puller
	Orchestrator *orchestrator.Orchestrator
}

// Init builds every collaborator from cfg, applies warehouse DDL,
// runs the metadata store's startup recovery, and returns a Core ready
// for Start. The process aborts startup on any error here (§7: ErrConfig).
func Init(ctx context.Context, cfg domain.CoreConfig, sink domain.EventSink) (*Core, error) {
	hasher, err := phihash.New(cfg.Security.PHISalt, cfg.Security.FieldsToHash)
	if err != nil {
		return nil, err
	}

	warehouse, err := database.Open(database.OpenOptions{
		Engine: cfg.DB.Engine, SQLitePath: cfg.DB.Path,
		Server: cfg.DB.Server, Port: cfg.DB.Port, Database: cfg.DB.Database,
		User: cfg.DB.User, Password: cfg.DB.Password, Trusted: cfg.DB.Trusted, Driver: cfg.DB.Driver,
		ConnectTimeout: cfg.DB.ConnectionTimeout, MaxConnections: cfg.DB.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open warehouse: %v", errs.ErrConfig, err)
	}

	catalog := schemacatalog.New()
	for _, stmt := range catalog.DDL(warehouse.Dialect()) {
		if _, err := warehouse.ExecContext(ctx, stmt); err != nil {
			warehouse.Close() //nolint:errcheck
			return nil, fmt.Errorf("%w: apply schema catalog DDL: %v", errs.ErrConfig, err)
		}
	}

	metaPath := filepath.Join(cfg.Directories.Database, "internal.db")
	meta, err := metadatastore.Open(ctx, metaPath)
	if err != nil {
		warehouse.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: open metadata store: %v", errs.ErrConfig, err)
	}

	if err := meta.Recover(ctx); err != nil {
		return nil, fmt.Errorf("%w: recover metadata store: %v", errs.ErrConfig, err)
	}

	var puller *sftppuller.Puller
	if cfg.SFTP.Enabled {
		puller = sftppuller.New(cfg.SFTP)
	}

	deps := fileworker.Dependencies{
		Catalog: catalog, Hasher: hasher, Metadata: meta, Warehouse: warehouse, Sink: sink,
	}
	orch := orchestrator.New(deps, cfg.ETL.MaxJobHistory)

	return &Core{
		cfg: cfg, Warehouse: warehouse, Metadata: meta, Catalog: catalog, Hasher: hasher,
		Puller: puller, Orchestrator: orch,
	}, nil
}

// Start arms the core for job submission. SFTP auto-pull, if configured,
// is invoked per job by StartJobWithPull rather than on a timer here
// (§1 Non-goals: no built-in scheduler).
func (c *Core) Start(_ context.Context) error {
	return nil
}

// StartJob discovers and processes files already present under the
// watched directory, per §4.9.
func (c *Core) StartJob(ctx context.Context, opts orchestrator.StartOptions) (string, error) {
	if opts.WatchedDir == "" {
		opts.WatchedDir = c.cfg.Directories.Input
	}
	if opts.FileTableMap == nil {
		opts.FileTableMap = c.cfg.ETL.FileTableMap
	}
	if len(opts.IgnoredPrefixes) == 0 {
		opts.IgnoredPrefixes = c.cfg.ETL.IgnoredFilenamePrefixes
	}
	if len(opts.FilePatterns) == 0 {
		opts.FilePatterns = c.cfg.ETL.FilePatterns
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = c.cfg.ETL.MaxWorkers
	}
	return c.Orchestrator.StartJob(ctx, opts)
}

// StartJobWithPull downloads new files from the configured SFTP endpoint
// into the watched directory before discovering and processing them,
// per §4.10's integration with §4.9.
func (c *Core) StartJobWithPull(ctx context.Context, opts orchestrator.StartOptions) (string, sftppuller.Result, error) {
	var pullResult sftppuller.Result
	if c.Puller != nil {
		res, err := c.Puller.Pull(ctx, c.cfg.Directories.Input)
		if err != nil {
			return "", pullResult, fmt.Errorf("sftp pull: %w", err)
		}
		pullResult = res
	}
	jobID, err := c.StartJob(ctx, opts)
	return jobID, pullResult, err
}

// defaultShutdownGrace bounds how long Shutdown waits for in-flight File
// Workers when ctx carries no deadline of its own.
const defaultShutdownGrace = 30 * time.Second

// Shutdown cancels every active job, waits for in-flight File Workers to
// finish (bounded by ctx's deadline, or defaultShutdownGrace if it has
// none), and closes the warehouse/metadata connections, per §6.
func (c *Core) Shutdown(ctx context.Context) error {
	grace := defaultShutdownGrace
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			grace = remaining
		}
	}
	c.Orchestrator.Shutdown(grace)

	var firstErr error
	if err := c.Metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Warehouse.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
