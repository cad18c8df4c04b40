// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sftppuller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chcoord/etl-core/internal/domain"
)

func TestMatchesAny(t *testing.T) {
	require.True(t, matchesAny("people_20250828.txt", []string{"*.txt"}))
	require.False(t, matchesAny("people_20250828.csv", []string{"*.txt"}))
	require.True(t, matchesAny("people_20250828.csv", []string{"*.txt", "*.csv"}))
}

func TestSftpPort_DefaultsTo22(t *testing.T) {
	require.Equal(t, 22, sftpPort(0))
	require.Equal(t, 2222, sftpPort(2222))
}

func TestAuthMethod_UnknownMethodErrors(t *testing.T) {
	p := New(domain.SFTPConfig{AuthMethod: "carrier-pigeon"})
	_, err := p.authMethod()
	require.Error(t, err)
}

func TestAuthMethod_Password(t *testing.T) {
	p := New(domain.SFTPConfig{AuthMethod: domain.SFTPAuthPassword, Password: "secret"})
	method, err := p.authMethod()
	require.NoError(t, err)
	require.NotNil(t, method)
}

func TestTofuHostKeyCallback_CreatesFileIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "known_hosts")
	_, err := tofuHostKeyCallback(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, info.IsDir())
}

func TestTofuHostKeyCallback_RequiresPath(t *testing.T) {
	_, err := tofuHostKeyCallback("")
	require.Error(t, err)
}
