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
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Codec describes how one record type maps to and from a CSV row.
// Structured fields (lists, nested objects) are carried as JSON text in
// a single cell; the codec owns that encoding so the repository stays
// schema-agnostic.
type Codec[T any] interface {
	// Columns returns the header row, in the on-disk column order.
	Columns() []string

	// ToRow flattens a record into cells matching Columns order.
	ToRow(record T) ([]string, error)

	// FromRow rebuilds a record from cells. Called with exactly
	// len(Columns()) cells.
	FromRow(cells []string) (T, error)
}

// fileLocks serializes access per backing file, not per Repository
// instance. Stage runners open repositories fresh on every call, so
// instance-level locking would not actually exclude anything.
var fileLocks sync.Map // path -> *sync.RWMutex

func lockFor(path string) *sync.RWMutex {
	actual, _ := fileLocks.LoadOrStore(path, &sync.RWMutex{})
	return actual.(*sync.RWMutex)
}

// Repository is an append-only CSV store for one record type inside one
// run. Records are only ever added; corrections happen by appending
// superseding records downstream, never by rewriting history.
//
// # Thread Safety
//
// Safe for concurrent use, including across Repository instances over
// the same file within this process. Cross-process writers are not
// coordinated; runs are owned by one pipeline process at a time.
type Repository[T any] struct {
	path  string
	codec Codec[T]
}

// Open binds a repository to a file inside the run. The file is not
// created until the first append; a repository over an absent file is a
// valid "nothing recorded yet" state for writers, and a read error for
// readers.
func Open[T any](run *Run, filename string, codec Codec[T]) *Repository[T] {
	return &Repository[T]{path: run.Path(filename), codec: codec}
}

// Path returns the backing file location.
func (r *Repository[T]) Path() string {
	return r.path
}

// Exists reports whether the backing file has been created.
func (r *Repository[T]) Exists() bool {
	info, err := os.Stat(r.path)
	return err == nil && !info.IsDir()
}

// EnsureSchema creates the backing file with its header row when it does
// not exist yet. An existing file is left untouched, header included.
func (r *Repository[T]) EnsureSchema() error {
	mu := lockFor(r.path)
	mu.Lock()
	defer mu.Unlock()

	if info, err := os.Stat(r.path); err == nil && info.Size() > 0 {
		return nil
	}

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("creating %s: %w", r.path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(r.codec.Columns()); err != nil {
		return fmt.Errorf("writing header to %s: %w", r.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", r.path, err)
	}
	return file.Sync()
}

// Append adds one record, creating the file with its header row first if
// needed. The write is flushed before returning so an accepted record is
// durable.
func (r *Repository[T]) Append(record T) error {
	return r.AppendAll([]T{record})
}

// AppendAll adds records in order under a single lock acquisition.
// Either the header exists already or it is written before the first
// record; rows are never interleaved with another AppendAll batch.
func (r *Repository[T]) AppendAll(records []T) error {
	if len(records) == 0 {
		return nil
	}

	mu := lockFor(r.path)
	mu.Lock()
	defer mu.Unlock()

	writeHeader := false
	if info, err := os.Stat(r.path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		writeHeader = true
	}

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("opening %s: %w", r.path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(r.codec.Columns()); err != nil {
			return fmt.Errorf("writing header to %s: %w", r.path, err)
		}
	}
	for _, record := range records {
		cells, err := r.codec.ToRow(record)
		if err != nil {
			return fmt.Errorf("encoding record for %s: %w", r.path, err)
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("writing row to %s: %w", r.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", r.path, err)
	}
	return file.Sync()
}

// LoadAll reads every record in append order. A missing file is
// ErrRepositoryNotFound. Rows that fail to decode are skipped and
// collected into a RowErrors alongside the successfully decoded records:
// one bad row never hides the rest of the evidence.
func (r *Repository[T]) LoadAll() ([]T, error) {
	mu := lockFor(r.path)
	mu.RLock()
	defer mu.RUnlock()

	return r.loadLocked(nil)
}

// LoadFiltered reads records whose named column exactly matches value,
// compared on the raw cell text before decoding. Missing-file and
// bad-row handling matches LoadAll.
func (r *Repository[T]) LoadFiltered(column, value string) ([]T, error) {
	mu := lockFor(r.path)
	mu.RLock()
	defer mu.RUnlock()

	idx := -1
	for i, name := range r.codec.Columns() {
		if name == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: no column %q in %s", ErrConfiguration, column, r.path)
	}

	return r.loadLocked(func(cells []string) bool {
		return cells[idx] == value
	})
}

// loadLocked does the actual read. Callers hold the read lock.
func (r *Repository[T]) loadLocked(keep func([]string) bool) ([]T, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, r.path)
		}
		return nil, fmt.Errorf("opening %s: %w", r.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedRecord, r.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	want := len(r.codec.Columns())
	var records []T
	rowErrs := &RowErrors{}
	for i, cells := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		if len(cells) != want {
			rowErrs.Add(&RowError{Row: rowNum, Err: fmt.Errorf("%w: got %d cells, want %d", ErrMalformedRecord, len(cells), want)})
			continue
		}
		if keep != nil && !keep(cells) {
			continue
		}
		record, err := r.codec.FromRow(cells)
		if err != nil {
			rowErrs.Add(&RowError{Row: rowNum, Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)})
			continue
		}
		records = append(records, record)
	}
	return records, rowErrs.ToError()
}

// Count returns the number of decodable records. Missing file counts as
// zero for writers deciding whether a stage has upstream evidence; use
// Exists to distinguish.
func (r *Repository[T]) Count() (int, error) {
	records, err := r.LoadAll()
	if err != nil {
		var rowErrs *RowErrors
		if errors.As(err, &rowErrs) {
			return len(records), err
		}
		return 0, err
	}
	return len(records), nil
}
