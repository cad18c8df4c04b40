// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// DatabaseConfig describes the warehouse connection. Exactly one dialect
// is active at a time, selected by Engine; fields outside that dialect's
// shape are ignored.
type DatabaseConfig struct {
	Engine string // "sqlite" | "mssql" | "postgres" | "mysql"

	// SQLite
	Path string

	// MS SQL / Azure SQL / PostgreSQL / MySQL
	Server   string
	Port     int
	Database string
	User     string
	Password string

	// MS SQL only: when true, connect with a trusted (Windows-integrated)
	// connection; User/Password are then not used. Rejected for Azure SQL.
	Trusted bool
	Driver  string

	ConnectionTimeout time.Duration
	MaxConnections    int
}

// String implements fmt.Stringer, redacting the password.
func (d DatabaseConfig) String() string {
	return "DatabaseConfig{Engine:" + d.Engine + ", Server:" + d.Server + ", Database:" + d.Database +
		", User:" + d.User + ", Password:" + RedactString(d.Password) + "}"
}

// IsAzureSQL reports whether Server names an Azure SQL endpoint, per §4.1/§6:
// auto-detected by the `.database.windows.net` host suffix.
func (d DatabaseConfig) IsAzureSQL() bool {
	return hasSuffixFold(d.Server, ".database.windows.net")
}

func hasSuffixFold(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	a, b := s[len(s)-len(suffix):], suffix
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// SFTPAuthMethod enumerates supported authentication methods for SFTPConfig.
type SFTPAuthMethod string

const (
	SFTPAuthKey      SFTPAuthMethod = "key"
	SFTPAuthPassword SFTPAuthMethod = "password"
)

// SFTPConfig describes the remote endpoint pulled from per §4.10/§6.
type SFTPConfig struct {
	Enabled bool

	Host     string
	Port     int
	Username string

	AuthMethod SFTPAuthMethod
	Password   string

	// PrivateKeyPEM holds raw key bytes in OpenSSH or PEM format, or as an
	// unencrypted PuTTY .ppk (v2/v3) RSA key. SSH2 / RFC 4716 (ssh.com)
	// private key files are not accepted.
	PrivateKeyPEM     []byte
	PrivateKeyPassphrase string

	RemoteDirectory string
	FilePatterns    []string // globs, e.g. "*.txt"

	DeleteAfterDownload bool

	KnownHostsPath string // TOFU-persisted host keys

	Timeout    time.Duration
	MaxRetries int
}

// String implements fmt.Stringer, redacting credentials.
func (c SFTPConfig) String() string {
	return "SFTPConfig{Host:" + c.Host + ", Username:" + c.Username +
		", AuthMethod:" + string(c.AuthMethod) + ", Password:" + RedactString(c.Password) +
		", RemoteDirectory:" + c.RemoteDirectory + "}"
}

// SecurityConfig configures PHI/PII hashing (§4.5).
type SecurityConfig struct {
	// PHISalt is a 64-hex-char process-wide salt. Required whenever
	// FieldsToHash is non-empty; the core refuses to start otherwise.
	PHISalt string

	// FieldsToHash maps table name to the set of columns within it that
	// must be hashed before load.
	FieldsToHash map[string][]string
}

// String implements fmt.Stringer, redacting the salt.
func (s SecurityConfig) String() string {
	return "SecurityConfig{PHISalt:" + RedactString(s.PHISalt) + "}"
}

// ETLConfig configures orchestrator/discovery defaults (§4.7/§4.9/§6).
type ETLConfig struct {
	BatchSize    int
	MaxWorkers   int
	RetryAttempts int

	SkipProcessed   bool
	ForceReprocess  bool
	LatestOnly      bool

	IgnoredFilenamePrefixes []string // default {SAMPLE, TEST, CHHSCA}
	FilePatterns            []string // default {*.txt, *.csv, *.tsv}
	RecognizedExtensions    []string

	// FileTableMap maps an exact filename or glob to a target table name,
	// consulted before the prefix-stripping parser (§4.7).
	FileTableMap map[string]string

	// MaxJobHistory bounds the in-memory terminated-job LRU (§3.2, default 100).
	MaxJobHistory int
}

// DirectoriesConfig names the filesystem locations the core uses (§6).
type DirectoriesConfig struct {
	Input    string // watched directory
	Database string // holds internal.db
	Backup   string
}

// CoreConfig is the fully resolved configuration handed to Init. The core
// never loads it from disk or environment (§1 Non-goals / §6).
type CoreConfig struct {
	DB          DatabaseConfig
	SFTP        SFTPConfig
	ETL         ETLConfig
	Security    SecurityConfig
	Directories DirectoriesConfig
}
