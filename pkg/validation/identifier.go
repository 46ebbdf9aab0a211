// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, file paths, or subprocess calls. Using these validators
// prevents injection attacks (SQL/Flux injection, command injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid schema/batch/table identifiers: the SQL
// generator substitutes these directly into a `.format()`-style template
// rather than a bind parameter (backend/jobfuncs.py's `_db_query`), so they
// are the one place a raw string reaches SQL text instead of a parameter —
// worth validating defensively even though SQL generation itself is out of
// scope.
//
// Allows: lowercase/uppercase letters, digits, underscores. Must start with
// a letter or underscore (a leading digit would make some dialects treat
// the identifier as ambiguous without quoting). Max length: 63 characters,
// matching PostgreSQL's NAMEDATALEN identifier limit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier validates a single schema/batch/table name.
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier(batchName); err != nil {
//	    return nil, fmt.Errorf("invalid batch name: %w", err)
//	}
//	// Safe to splice into the generated SQL template
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier format: %q (must start with a letter or underscore, up to 63 letters/digits/underscores)", name)
	}

	return nil
}

// ValidateIdentifiers validates multiple schema/batch/table names.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIdentifiers(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeIdentifier trims and validates an identifier.
// Returns the trimmed identifier if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeName, err := validation.SanitizeIdentifier(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeName is trimmed and validated
func SanitizeIdentifier(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if err := ValidateIdentifier(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
