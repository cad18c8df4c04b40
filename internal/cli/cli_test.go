// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoot_RegistersSubcommands(t *testing.T) {
	root := NewRoot()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["db"])
	require.True(t, names["job"])
}

func TestDBDDLCommand_PrintsSQLiteDDLByDefault(t *testing.T) {
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"db", "ddl"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "CREATE TABLE")
	require.Contains(t, out.String(), "people")
}

func TestDBDDLCommand_RejectsUnknownDialect(t *testing.T) {
	root := NewRoot()
	root.SetArgs([]string{"db", "ddl", "--dialect", "db2"})
	require.Error(t, root.Execute())
}

func TestJobCancelCommand_RequiresArg(t *testing.T) {
	root := NewRoot()
	root.SetArgs([]string{"job", "cancel"})
	require.Error(t, root.Execute())
}
