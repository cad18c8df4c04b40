// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chcoord/etl-core/internal/database"
	"github.com/chcoord/etl-core/internal/schemacatalog"
)

// newDBCommand groups schema-catalog inspection subcommands, per §4.2/§6.
func newDBCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the schema catalog and warehouse DDL",
	}

	cmd.AddCommand(newDBDDLCommand())

	return cmd
}

// newDBDDLCommand prints the catalog's canonical DDL translated for one
// dialect, per §4.1/§4.2: `db ddl --dialect=postgres`.
func newDBDDLCommand() *cobra.Command {
	var dialectFlag string

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print CREATE TABLE statements for every catalog table in the given dialect",
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, err := database.ParseDialect(dialectFlag)
			if err != nil {
				return err
			}

			catalog := schemacatalog.New()
			for _, stmt := range catalog.DDL(dialect) {
				fmt.Fprintln(cmd.OutOrStdout(), stmt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dialectFlag, "dialect", "sqlite", "target dialect: sqlite|mssql|postgres|mysql")
	return cmd
}
