// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package errs holds the error taxonomy of §7: component boundaries wrap
// transport errors into these sentinels so callers can errors.Is/As
// instead of matching on message text.
package errs

import "errors"

var (
	// ErrDialect is raised by the adapter on connect/exec failure. Fails
	// the containing worker/task.
	ErrDialect = errors.New("dialect error")

	// ErrUnsupportedFeature is raised when a dialect cannot express a
	// requested DDL/SQL construct.
	ErrUnsupportedFeature = errors.New("unsupported feature for dialect")

	// ErrSchemaDriftCritical fails the file; recorded in schema_errors
	// with remediation DDL.
	ErrSchemaDriftCritical = errors.New("critical schema drift")

	// ErrSchemaDriftWarning is logged only; the file continues.
	ErrSchemaDriftWarning = errors.New("schema drift warning")

	// ErrRepo is raised by the Repository. Fails the file; no partial
	// row accounting is reported.
	ErrRepo = errors.New("repository error")

	// ErrFileRead is raised by the File Worker's read step. Distinguish
	// "empty" (skip) from "unreadable" (fail) at the call site.
	ErrFileRead = errors.New("file read error")

	// ErrEmptyFile marks a file with zero data rows after parsing; the
	// worker treats this as a skip, not a failure.
	ErrEmptyFile = errors.New("empty file")

	// ErrAuthSFTP, ErrKeyFormat, ErrHost are raised by the SFTP Puller.
	// Reported per file; the puller continues with the next file.
	ErrAuthSFTP  = errors.New("sftp authentication error")
	ErrKeyFormat = errors.New("unsupported or encrypted private key format")
	ErrHost      = errors.New("sftp host key verification error")

	// ErrCancelled marks a task/job as cancelled. Never surfaced to the
	// end caller as a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrConfig is raised during Init. Process aborts startup.
	ErrConfig = errors.New("configuration error")

	// ErrJobNotFound is returned by orchestrator lookups for an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotActive is returned by CancelJob when the job id names a
	// job that already terminated or never existed.
	ErrJobNotActive = errors.New("job not active")
)
