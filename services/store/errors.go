// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the run store.
var (
	// Configuration errors
	ErrConfiguration = errors.New("output location unavailable")
	ErrEmptyBaseDir  = errors.New("base output directory must not be empty")

	// Run errors
	ErrRunNotFound = errors.New("run namespace does not exist")

	// Repository errors
	ErrRepositoryNotFound = errors.New("repository has never been written")
	ErrMalformedRecord    = errors.New("stored row cannot be decoded")
	ErrMissingUpstream    = errors.New("referenced upstream record does not exist")

	// Counter errors
	ErrCounterPersist = errors.New("failed to persist counter set")
	ErrLockAcquire    = errors.New("failed to acquire counter lock")
)

// RowError reports a single undecodable row in a repository file.
// The row number is 1-based and counts data rows, excluding the header.
type RowError struct {
	Row int
	Err error
}

// Error implements the error interface.
func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Unwrap returns the underlying error.
func (e *RowError) Unwrap() error {
	return e.Err
}

// RowErrors accumulates per-row failures from a load. Loads always return
// every row they could decode; RowErrors carries the rest so callers can
// log and continue instead of losing a whole file to one bad line.
type RowErrors struct {
	Errors []error
}

// Error implements the error interface.
func (e *RowErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d rows could not be decoded; first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the accumulated errors to errors.Is / errors.As.
func (e *RowErrors) Unwrap() []error {
	return e.Errors
}

// Add appends an error to the accumulator.
func (e *RowErrors) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e *RowErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns nil if no errors occurred, or the accumulator itself.
func (e *RowErrors) ToError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
