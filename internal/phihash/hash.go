// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package phihash is the PHI Hasher (C5): a deterministic salted SHA-256
// hash over configured PHI/PII fields, per §4.5/I5.
package phihash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/chcoord/etl-core/internal/errs"
)

// saltPattern validates a 64-character hex salt, per §4.5.
var saltPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// sentinels are the null markers that pass through unhashed, per §4.5/I5
// and §6 (case-insensitive).
var sentinels = map[string]struct{}{
	"":     {},
	"nan":  {},
	"none": {},
	"null": {},
}

// ValidateSalt reports whether salt is a well-formed 64-hex-char value.
// The core must refuse to start (§4.5, ErrConfig per §7) if hashing is
// enabled and the salt is absent or malformed.
func ValidateSalt(salt string) error {
	if !saltPattern.MatchString(salt) {
		return fmt.Errorf("%w: phi salt must be exactly 64 hex characters", errs.ErrConfig)
	}
	return nil
}

// Hasher applies a fixed salt to configured fields.
type Hasher struct {
	salt   string
	fields map[string]map[string]struct{}
}

// New builds a Hasher from a 64-hex-char salt and a table->columns map
// (§4.5's closed, config-enumerated field set). Returns ErrConfig if
// fieldsToHash is non-empty and the salt fails ValidateSalt.
func New(salt string, fieldsToHash map[string][]string) (*Hasher, error) {
	if len(fieldsToHash) > 0 {
		if err := ValidateSalt(salt); err != nil {
			return nil, err
		}
	}

	resolved := make(map[string]map[string]struct{}, len(fieldsToHash))
	for table, cols := range fieldsToHash {
		set := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			set[strings.ToLower(c)] = struct{}{}
		}
		resolved[strings.ToLower(table)] = set
	}

	return &Hasher{salt: salt, fields: resolved}, nil
}

// ShouldHash reports whether column of table is configured for hashing.
func (h *Hasher) ShouldHash(table, column string) bool {
	if h == nil {
		return false
	}
	cols, ok := h.fields[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = cols[strings.ToLower(column)]
	return ok
}

// Hash computes the deterministic salted hash of v, per §4.5/I5: empty,
// "nan", "none", "null" (case-insensitive) pass through unchanged;
// otherwise returns a 64-char lowercase hex SHA-256 of salt||v||salt.
func Hash(salt, v string) string {
	if _, ok := sentinels[strings.ToLower(v)]; ok {
		return v
	}
	sum := sha256.Sum256([]byte(salt + v + salt))
	return hex.EncodeToString(sum[:])
}

// HashValue hashes v using the Hasher's configured salt. Equivalent to
// Hash(h.salt, v); provided so callers don't need to thread the salt
// through separately.
func (h *Hasher) HashValue(v string) string {
	return Hash(h.salt, v)
}
