// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fileworker

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/chcoord/etl-core/internal/errs"
)

// transcodingFallbacks lists the decoders tried in order after utf-8, per §4.8 step 2:
// "Try encodings utf-8, latin-1, cp1252. first one that parses wins."
// utf-8 is checked structurally (no transcoding needed); latin-1/cp1252
// are transcoded via golang.org/x/text/encoding/charmap, which always
// "succeeds" byte-for-byte, so utf-8 must be tried first.
var transcodingFallbacks = []*charmap.Charmap{
	charmap.ISO8859_1, // latin-1
	charmap.Windows1252,
}

// readDelimitedFile reads path as a '|'-delimited, '"'-quoted table with
// a header row, per §6, trying each candidate encoding in order. Returns
// the header and the remaining rows as raw strings (cleaning happens
// later, per §4.6).
func readDelimitedFile(path string) (header []string, rows [][]string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %v", errs.ErrFileRead, path, err)
	}

	text, decodeErr := decodeBytes(raw)
	if decodeErr != nil {
		return nil, nil, fmt.Errorf("%w: decode %s: %v", errs.ErrFileRead, path, decodeErr)
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = '|'
	r.LazyQuotes = false
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse %s as delimited text: %v", errs.ErrFileRead, path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	return records[0], records[1:], nil
}

// decodeBytes tries utf-8 first (structural validity check, no
// transcoding), then latin-1 and cp1252 transcoding in order, per §4.8
// step 2.
func decodeBytes(raw []byte) ([]byte, error) {
	if utf8.Valid(raw) {
		return raw, nil
	}

	var lastErr error
	for _, cm := range transcodingFallbacks {
		decoded, err := cm.NewDecoder().Bytes(raw)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return raw, nil
}
