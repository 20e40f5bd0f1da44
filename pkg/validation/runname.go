// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for security-critical
// operations.
//
// Run names arrive over HTTP and are joined onto the base output
// directory to locate a run namespace; validating them here prevents
// path traversal out of the output tree.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// runNamePattern matches run namespace directory names: the run_ prefix
// followed by the UTC creation timestamp, plus the optional numeric
// suffix minted when two runs start within the same second.
var runNamePattern = regexp.MustCompile(`^run_\d{8}_\d{6}(?:_\d+)?$`)

// ValidateRunName checks that a client-supplied run name is a plain
// run-namespace directory name, e.g. "run_20250901_101500" or
// "run_20250901_101500_2".
//
// Returns an error when the name is empty, contains path separators or
// dot segments, or does not match the run naming scheme.
func ValidateRunName(name string) error {
	if name == "" {
		return fmt.Errorf("run name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("run name %q must not contain path segments", name)
	}
	if !runNamePattern.MatchString(name) {
		return fmt.Errorf("run name %q does not match run_YYYYMMDD_HHMMSS", name)
	}
	return nil
}
