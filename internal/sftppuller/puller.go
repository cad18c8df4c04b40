// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sftppuller is the SFTP Puller (C10): authenticated listing and
// download of remote files into the watched directory, with optional
// post-download deletion, per §4.10.
package sftppuller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/errs"
	"github.com/chcoord/etl-core/internal/sftppuller/ppk"
)

// FileResult is the per-file outcome of one Pull call, per §4.10.
type FileResult struct {
	RemotePath string
	LocalPath  string
	Deleted    bool
	Error      string
}

// Result aggregates a Pull call's outcome, per §4.10: "the overall call
// returns a result set {total, ok, failed, per_file_results}".
type Result struct {
	Total   int
	OK      int
	Failed  int
	Results []FileResult
}

// Puller authenticates to one SFTP endpoint and downloads files matching
// configured globs into a local directory.
type Puller struct {
	cfg domain.SFTPConfig
}

// New builds a Puller bound to cfg.
func New(cfg domain.SFTPConfig) *Puller {
	return &Puller{cfg: cfg}
}

// Pull lists cfg.RemoteDirectory for each configured glob, downloads
// matches into localDir, and optionally deletes the remote file after a
// successful download, per §4.10. Per-file errors are collected into the
// result set; they never abort the overall call.
func (p *Puller) Pull(ctx context.Context, localDir string) (Result, error) {
	client, closeFn, err := p.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	entries, err := client.ReadDir(p.cfg.RemoteDirectory)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list %s: %v", errs.ErrHost, p.cfg.RemoteDirectory, err)
	}

	patterns := p.cfg.FilePatterns
	if len(patterns) == 0 {
		patterns = []string{"*.txt", "*.csv", "*.tsv"}
	}

	var result Result
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !matchesAny(entry.Name(), patterns) {
			continue
		}

		result.Total++
		fr := p.downloadOne(ctx, client, entry.Name(), localDir)
		result.Results = append(result.Results, fr)
		if fr.Error == "" {
			result.OK++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

func (p *Puller) downloadOne(ctx context.Context, client *sftp.Client, name, localDir string) FileResult {
	remotePath := filepath.Join(p.cfg.RemoteDirectory, name)
	localPath := filepath.Join(localDir, name)
	fr := FileResult{RemotePath: remotePath, LocalPath: localPath}

	// One initial attempt plus up to MaxRetries retries.
	retryAttempts := 1
	if p.cfg.MaxRetries > 0 {
		retryAttempts += p.cfg.MaxRetries
	}

	err := retry.Do(
		func() error { return downloadFile(client, remotePath, localPath) },
		retry.Attempts(uint(retryAttempts)),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}

	if p.cfg.DeleteAfterDownload {
		if err := client.Remove(remotePath); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("sftppuller: failed to delete remote file after download")
		} else {
			fr.Deleted = true
		}
	}

	return fr
}

func downloadFile(client *sftp.Client, remotePath, localPath string) error {
	remote, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer remote.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local directory %s: %w", dir, err)
		}
	}

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// dial authenticates by key or password per config, per §4.10, and
// verifies the host key via a persisted known_hosts file, auto-accepting
// and saving on first contact (TOFU).
func (p *Puller) dial(ctx context.Context) (*sftp.Client, func(), error) {
	auth, err := p.authMethod()
	if err != nil {
		return nil, nil, err
	}

	hostKeyCallback, err := tofuHostKeyCallback(p.cfg.KnownHostsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrHost, err)
	}

	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            p.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, sftpPort(p.cfg.Port))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %v", errs.ErrHost, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: ssh handshake with %s: %v", errs.ErrAuthSFTP, addr, err)
	}

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("%w: open sftp session with %s: %v", errs.ErrAuthSFTP, addr, err)
	}

	closeFn := func() {
		client.Close()
		sshClient.Close()
	}
	return client, closeFn, nil
}

func sftpPort(port int) int {
	if port == 0 {
		return 22
	}
	return port
}

func (p *Puller) authMethod() (ssh.AuthMethod, error) {
	switch p.cfg.AuthMethod {
	case domain.SFTPAuthPassword:
		return ssh.Password(p.cfg.Password), nil
	case domain.SFTPAuthKey:
		signer, err := parsePrivateKey(p.cfg.PrivateKeyPEM, p.cfg.PrivateKeyPassphrase)
		if err != nil {
			return nil, err
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("%w: unknown sftp auth method %q", errs.ErrAuthSFTP, p.cfg.AuthMethod)
	}
}

// parsePrivateKey decodes OpenSSH and PEM keys directly via x/crypto/ssh,
// and PuTTY .ppk keys via the in-process parser in
// internal/sftppuller/ppk, per §4.10/§9. SSH2 / RFC 4716 (ssh.com)
// private key files are recognized by neither and fail with ErrKeyFormat.
func parsePrivateKey(raw []byte, passphrase string) (ssh.Signer, error) {
	if ppk.Looks(raw) {
		openSSHPEM, err := ppk.ToOpenSSH(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrKeyFormat, err)
		}
		raw = openSSHPEM
	}

	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKeyFormat, err)
	}
	return signer, nil
}

// tofuHostKeyCallback verifies inbound host keys against a persisted
// known_hosts file, auto-accepting and persisting unseen host keys on
// first contact, per §4.10's TOFU requirement.
func tofuHostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return nil, errors.New("known_hosts path is required for TOFU host key verification")
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create known_hosts directory: %w", err)
			}
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			return nil, fmt.Errorf("create known_hosts file: %w", err)
		}
	}

	base, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := base(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// Unknown host: trust on first use, append and accept.
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			f, openErr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
			if openErr != nil {
				return fmt.Errorf("persist new host key: %w", openErr)
			}
			defer f.Close()
			if _, writeErr := f.WriteString(line + "\n"); writeErr != nil {
				return fmt.Errorf("persist new host key: %w", writeErr)
			}
			log.Info().Str("host", hostname).Msg("sftppuller: trusting new host key on first use")
			return nil
		}

		return err
	}, nil
}
