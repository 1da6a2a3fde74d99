// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	valid := []string{"117", "P001", "Patient_001", "a-b-c", "MASKED123"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), "expected %q to validate", id)
	}

	invalid := []string{"", "../etc/passwd", "a/b", "a b", "a.b", "_leading", "-leading",
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}
	for _, id := range invalid {
		assert.Error(t, ValidateID(id), "expected %q to fail", id)
	}
}

func TestNormalizeEye(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OD", "OD"},
		{"od", "OD"},
		{"R", "OD"},
		{"right", "OD"},
		{"OS", "OS"},
		{"L", "OS"},
		{" l ", "OS"},
		{"LEFT", "OS"},
	}
	for _, tt := range tests {
		got, err := NormalizeEye(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, in := range []string{"", "X", "both", "ODOS"} {
		_, err := NormalizeEye(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestCanonicalFieldIndex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"03", "3"},
		{"3.0", "3"},
		{" 12 ", "12"},
	}
	for _, tt := range tests {
		got, err := CanonicalFieldIndex(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, in := range []string{"", "0", "-1", "abc", "1.5"} {
		_, err := CanonicalFieldIndex(in)
		assert.Error(t, err, "input %q", in)
	}
}

// Numeric-vs-string identity drift was a recurring source of false
// "incomplete" results; both renderings must land on the same canonical key.
func TestCanonicalFieldIndexUnifiesRepresentations(t *testing.T) {
	fromRoster, err := CanonicalFieldIndex("2.0")
	require.NoError(t, err)
	fromSheet, err := CanonicalFieldIndex("2")
	require.NoError(t, err)
	assert.Equal(t, fromRoster, fromSheet)
	assert.Equal(t, FieldIndexString(2), fromSheet)
}
