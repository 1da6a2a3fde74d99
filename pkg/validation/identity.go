// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators and normalizers for user-provided identity
// components (specialist ids, masked patient ids, eye labels, field indices)
// that are used in file paths and remote sheet lookups. Using these validators
// prevents path traversal and key-shape drift (numeric vs. string field
// indices) across storage backends.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identPattern matches valid specialist and masked patient identifiers.
// Allows: letters, digits, underscores, hyphens. Max length: 64 characters.
// Underscores are allowed because several historical rosters use them
// (e.g. "Patient_001"); the id is still unambiguous in file names since
// stored keys are parsed positionally, never by splitting.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateID validates a specialist or masked patient identifier.
//
// Identifiers end up in local file names and in remote sheet rows, so they
// must never contain path separators, dots, or whitespace.
//
// Example:
//
//	if err := validation.ValidateID(maskedID); err != nil {
//	    return fmt.Errorf("invalid patient id: %w", err)
//	}
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q (must be 1-64 alphanumeric, underscore, or hyphen chars)", id)
	}
	return nil
}

// NormalizeEye canonicalizes an eye label to "OD" (right) or "OS" (left).
//
// Accepted inputs (case-insensitive): "OD", "R", "RIGHT" for the right eye;
// "OS", "L", "LEFT" for the left eye. Returns an error for anything else.
//
// Different subsystems historically used R/L and OD/OS interchangeably;
// everything downstream of this function sees only OD/OS.
func NormalizeEye(eye string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(eye)) {
	case "OD", "R", "RIGHT":
		return "OD", nil
	case "OS", "L", "LEFT":
		return "OS", nil
	default:
		return "", fmt.Errorf("invalid eye %q (want OD/OS or R/L)", eye)
	}
}

// CanonicalFieldIndex converts a visual-field number to its canonical
// string form: the base-10 rendering of the integer value.
//
// Roster datasets deliver field indices as floats ("3.0"), sheets deliver
// them as strings ("3"), and local code passes ints. All three must compare
// equal, so every comparison site goes through this function first.
func CanonicalFieldIndex(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", fmt.Errorf("field index cannot be empty")
	}
	// Fast path: already a plain integer.
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return "", fmt.Errorf("field index %d out of range (1-based)", n)
		}
		return strconv.Itoa(n), nil
	}
	// Tolerate float renderings like "3.0" from tabular sources.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("invalid field index %q: %w", v, err)
	}
	n := int(f)
	if float64(n) != f {
		return "", fmt.Errorf("field index %q is not an integer", v)
	}
	if n < 1 {
		return "", fmt.Errorf("field index %d out of range (1-based)", n)
	}
	return strconv.Itoa(n), nil
}

// FieldIndexString renders an integer field index canonically.
func FieldIndexString(n int) string {
	return strconv.Itoa(n)
}
