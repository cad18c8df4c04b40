// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package discovery is the File Discovery layer (C7): directory scan,
// pattern matching, table-name inference, date inference, content
// hashing, and the skip decision, per §4.7.
package discovery

import (
	"crypto/md5" //nolint:gosec // MD5 is spec-mandated for content fingerprinting (§3.2), not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chcoord/etl-core/internal/domain"
)

// defaultGlobs are the recognized extensions per §4.7/§6 when the config
// leaves FilePatterns empty.
var defaultGlobs = []string{"*.txt", "*.csv", "*.tsv"}

// defaultIgnoredPrefixes are the filename prefixes the parser strips by
// default, per §4.7.
var defaultIgnoredPrefixes = []string{"SAMPLE", "TEST", "CHHSCA"}

const unknownTable = "unknown_table"

var eightDigitToken = regexp.MustCompile(`^\d{8}$`)

// Options configures one discovery pass, mirroring the options a job
// submission carries (§4.9's StartJob opts, minus max_workers/trigger).
type Options struct {
	WatchedDir    string
	FileTableMap  map[string]string
	IgnoredPrefixes []string
	FilePatterns  []string

	ForceReprocess bool
	LatestOnly     bool
	SelectedFiles  []string // if non-empty, only these filenames are emitted

	Processed map[domain.FileFingerprint]struct{} // fingerprints already completed
}

// Discover scans opts.WatchedDir and returns one FileTask per matching
// file, per §4.7.
func Discover(opts Options) ([]*domain.FileTask, error) {
	patterns := opts.FilePatterns
	if len(patterns) == 0 {
		patterns = defaultGlobs
	}
	ignored := opts.IgnoredPrefixes
	if len(ignored) == 0 {
		ignored = defaultIgnoredPrefixes
	}

	var selected map[string]struct{}
	if len(opts.SelectedFiles) > 0 {
		selected = make(map[string]struct{}, len(opts.SelectedFiles))
		for _, f := range opts.SelectedFiles {
			selected[f] = struct{}{}
		}
	}

	entries, err := os.ReadDir(opts.WatchedDir)
	if err != nil {
		return nil, fmt.Errorf("scan watched directory %s: %w", opts.WatchedDir, err)
	}

	var tasks []*domain.FileTask
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		if selected != nil {
			if _, ok := selected[name]; !ok {
				continue
			}
		} else if !matchesAny(name, patterns) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}

		path := filepath.Join(opts.WatchedDir, name)
		hash, err := contentHash(path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", name, err)
		}

		task := &domain.FileTask{
			Path:        path,
			FileName:    name,
			Table:       resolveTable(name, opts.FileTableMap, ignored),
			FileDate:    resolveDate(name, info.ModTime()),
			ContentHash: hash,
			Status:      domain.FileTaskPending,
		}

		if !opts.ForceReprocess {
			fp := domain.FileFingerprint{FileName: name, ContentHash: hash}
			if _, done := opts.Processed[fp]; done {
				task.Status = domain.FileTaskSkipped
			}
		}

		tasks = append(tasks, task)
	}

	if opts.LatestOnly {
		tasks = keepLatestPerTable(tasks)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].FileName < tasks[j].FileName })
	return tasks, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// resolveTable implements §4.7's table-name resolution: exact filename
// match, then glob match in FileTableMap; else the prefix-stripping
// stem parser; else unknown_table.
func resolveTable(name string, mapping map[string]string, ignoredPrefixes []string) string {
	if mapping != nil {
		if table, ok := mapping[name]; ok {
			return table
		}
		for pattern, table := range mapping {
			if ok, _ := filepath.Match(pattern, name); ok {
				return table
			}
		}
	}

	if table := parseTableFromStem(name, ignoredPrefixes); table != "" {
		return table
	}
	return unknownTable
}

// parseTableFromStem implements §4.7's example:
// "SAMPLE_chhsca_people_20250828.txt -> people": split the extensionless
// stem on "_", drop ignored-prefix tokens (case-insensitively), and stop
// at the first eight-digit token (the date).
func parseTableFromStem(name string, ignoredPrefixes []string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	tokens := strings.Split(stem, "_")

	ignored := make(map[string]struct{}, len(ignoredPrefixes))
	for _, p := range ignoredPrefixes {
		ignored[strings.ToUpper(p)] = struct{}{}
	}

	var kept []string
	for _, tok := range tokens {
		if eightDigitToken.MatchString(tok) {
			break
		}
		if _, skip := ignored[strings.ToUpper(tok)]; skip {
			continue
		}
		kept = append(kept, tok)
	}

	if len(kept) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(kept, "_"))
}

// resolveDate implements §4.7: the first eight-digit token that is a
// valid calendar date, else the file's modified time formatted YYYYMMDD.
func resolveDate(name string, modTime time.Time) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, tok := range strings.Split(stem, "_") {
		if isValidDateToken(tok) {
			return tok
		}
	}
	return modTime.UTC().Format("20060102")
}

func isValidDateToken(tok string) bool {
	if !eightDigitToken.MatchString(tok) {
		return false
	}
	_, err := time.Parse("20060102", tok)
	return err == nil
}

// contentHash streams the file in 4 KiB chunks and returns its MD5 hex
// digest, per §4.7/§3.2.
func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // spec-mandated fingerprint algorithm, not a security use
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// keepLatestPerTable implements §4.7's latest_only option: per target
// table, keep only the task with the lexicographically greatest
// file_date.
func keepLatestPerTable(tasks []*domain.FileTask) []*domain.FileTask {
	latest := make(map[string]*domain.FileTask)
	for _, t := range tasks {
		cur, ok := latest[t.Table]
		if !ok || t.FileDate > cur.FileDate {
			latest[t.Table] = t
		}
	}
	out := make([]*domain.FileTask, 0, len(latest))
	for _, t := range latest {
		out = append(out, t)
	}
	return out
}

