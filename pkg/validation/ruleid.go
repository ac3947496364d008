// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers typed by
// users.
//
// Rule identifiers end up as keys in the persisted ignore list, so anything
// entered on the command line is checked before it reaches the store.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ruleIDPattern matches grammar rule identifiers.
// Allows: letters, digits, underscores, dots and hyphens, plus an optional
// numeric sub-rule suffix such as TOO_TO[1].
// Max length: 128 characters before the suffix.
var ruleIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}(\[[0-9]+\])?$`)

// ValidateRuleID validates a grammar rule identifier.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters, digits, underscores, dots and hyphens
//   - Start with a letter or digit
//   - Optionally end in a bracketed sub-rule number
//
// Returns an error if the identifier is invalid.
func ValidateRuleID(ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("rule id cannot be empty")
	}

	if !ruleIDPattern.MatchString(ruleID) {
		return fmt.Errorf("invalid rule id: %q (letters, digits, '_', '.', '-' and an optional [n] suffix)", ruleID)
	}

	return nil
}

// ValidateRuleIDs validates several identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateRuleIDs(ruleIDs []string) error {
	var invalid []string
	for _, id := range ruleIDs {
		if err := ValidateRuleID(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid rule ids: %q", invalid)
	}
	return nil
}

// SanitizeRuleID trims surrounding whitespace and validates the result.
// Case is kept: rule identifiers are matched exactly.
//
//	rule, err := validation.SanitizeRuleID(arg)
//	if err != nil {
//	    return err
//	}
func SanitizeRuleID(ruleID string) (string, error) {
	trimmed := strings.TrimSpace(ruleID)
	if err := ValidateRuleID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
