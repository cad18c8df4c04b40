// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package phihash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSalt = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestHash_Deterministic(t *testing.T) {
	h1 := Hash(testSalt, "p1")
	h2 := Hash(testSalt, "p1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Equal(t, strings.ToLower(h1), h1)
}

func TestHash_SentinelsPassThrough(t *testing.T) {
	for _, v := range []string{"", "nan", "NaN", "none", "NONE", "null", "Null"} {
		assert.Equal(t, v, Hash(testSalt, v), "sentinel %q should pass through", v)
	}
}

func TestHash_DifferentSaltsDiffer(t *testing.T) {
	otherSalt := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	assert.NotEqual(t, Hash(testSalt, "p1"), Hash(otherSalt, "p1"))
}

func TestHash_CrossTableJoinEquality(t *testing.T) {
	// §8 scenario 5: the same raw person_id hashed for two different
	// tables must still produce an identical hash.
	peopleHash := Hash(testSalt, "p1")
	casesHash := Hash(testSalt, "p1")
	assert.Equal(t, peopleHash, casesHash)
}

func TestValidateSalt(t *testing.T) {
	require.NoError(t, ValidateSalt(testSalt))
	require.Error(t, ValidateSalt(""))
	require.Error(t, ValidateSalt("too-short"))
}

func TestNew_RefusesMalformedSaltWhenFieldsConfigured(t *testing.T) {
	_, err := New("", map[string][]string{"people": {"person_id"}})
	require.Error(t, err)

	h, err := New("", nil)
	require.NoError(t, err)
	require.False(t, h.ShouldHash("people", "person_id"))
}

func TestShouldHash(t *testing.T) {
	h, err := New(testSalt, map[string][]string{
		"people": {"person_id"},
		"cases":  {"person_id"},
	})
	require.NoError(t, err)

	assert.True(t, h.ShouldHash("people", "person_id"))
	assert.True(t, h.ShouldHash("PEOPLE", "PERSON_ID"))
	assert.False(t, h.ShouldHash("people", "first_name"))
	assert.False(t, h.ShouldHash("referrals", "person_id"))
}
