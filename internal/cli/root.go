// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cli wires cmd/etlcore's cobra commands to internal/core. The
// core never loads configuration from disk or environment itself
// (§1 Non-goals); this package is where flags become a domain.CoreConfig.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/chcoord/etl-core/internal/domain"
)

// rootFlags holds the persistent flags shared by every subcommand: the
// warehouse connection and filesystem locations, per §6.
type rootFlags struct {
	dbEngine string
	dbPath   string
	dbServer string
	dbPort   int
	dbName   string
	dbUser   string
	dbPass   string
	dbTrusted bool

	inputDir    string
	databaseDir string

	phiSalt string
}

// NewRoot builds the etlcore root command and attaches every subcommand.
func NewRoot() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "etlcore",
		Short: "Healthcare ETL orchestrator: dialect-agnostic load, schema drift detection, and job control",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.dbEngine, "db-engine", "sqlite", "warehouse engine: sqlite|mssql|postgres|mysql")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "warehouse.db", "sqlite database file path")
	root.PersistentFlags().StringVar(&flags.dbServer, "db-server", "", "server host for mssql/postgres/mysql")
	root.PersistentFlags().IntVar(&flags.dbPort, "db-port", 0, "server port for mssql/postgres/mysql")
	root.PersistentFlags().StringVar(&flags.dbName, "db-name", "", "database name for mssql/postgres/mysql")
	root.PersistentFlags().StringVar(&flags.dbUser, "db-user", "", "database user for mssql/postgres/mysql")
	root.PersistentFlags().StringVar(&flags.dbPass, "db-password", "", "database password for mssql/postgres/mysql")
	root.PersistentFlags().BoolVar(&flags.dbTrusted, "db-trusted", false, "mssql only: use a trusted (Windows-integrated) connection")
	root.PersistentFlags().StringVar(&flags.inputDir, "input-dir", "./data/input", "watched directory for incoming files")
	root.PersistentFlags().StringVar(&flags.databaseDir, "database-dir", "./data", "directory holding internal.db")
	root.PersistentFlags().StringVar(&flags.phiSalt, "phi-salt", "", "64-hex-char salt; required only when field hashing is configured")

	root.AddCommand(newDBCommand(flags))
	root.AddCommand(newJobCommand(flags))

	return root
}

// buildConfig resolves the persistent flags into a CoreConfig, per §6.
func (f *rootFlags) buildConfig() domain.CoreConfig {
	return domain.CoreConfig{
		DB: domain.DatabaseConfig{
			Engine: f.dbEngine, Path: f.dbPath, Server: f.dbServer, Port: f.dbPort,
			Database: f.dbName, User: f.dbUser, Password: f.dbPass, Trusted: f.dbTrusted,
			ConnectionTimeout: 30 * time.Second,
		},
		Security: domain.SecurityConfig{PHISalt: f.phiSalt},
		ETL: domain.ETLConfig{
			MaxWorkers: 4, MaxJobHistory: 100,
		},
		Directories: domain.DirectoriesConfig{
			Input: f.inputDir, Database: f.databaseDir,
		},
	}
}
