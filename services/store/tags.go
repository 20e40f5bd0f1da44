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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// CounterFileName is the per-run counter blob shared by all entity
// families. One file per run keeps tag issuance atomic across families
// under a single lock.
const CounterFileName = "id_counters.json"

// TagIssuer issues human-readable, monotonically increasing tags such as
// "A-0001" within a single run. Counters persist across process
// restarts via the run's counter file; tag families in different runs
// are fully independent.
//
// # Thread Safety
//
// Safe for concurrent use. Every issuance reloads the counter file under
// an exclusive advisory lock, so separate TagIssuer instances (including
// in other processes) over the same run never repeat a tag.
type TagIssuer struct {
	run *Run
	mu  sync.Mutex
}

// NewTagIssuer binds an issuer to a run. Tags it issues are scoped to
// that run's counter file.
func NewTagIssuer(run *Run) *TagIssuer {
	return &TagIssuer{run: run}
}

// NextID issues the next tag for the given counter key, formatted as
// prefix + zero-padded number, e.g. NextID("asset", "A-", 4) -> "A-0001".
// The incremented counter is persisted before the tag is returned: a tag
// the caller holds can never be issued again, even after a crash.
func (t *TagIssuer) NextID(key, prefix string, width int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.run.Path(CounterFileName)
	lock, err := NewFileLock(path)
	if err != nil {
		return "", err
	}
	if err := lock.Acquire(); err != nil {
		return "", err
	}
	defer lock.Release()

	counters := t.load(path)
	counters[key]++
	if err := t.persist(path, counters); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%0*d", prefix, width, counters[key]), nil
}

// Peek reports the last issued number for a key without consuming one.
func (t *TagIssuer) Peek(key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.run.Path(CounterFileName)
	lock, err := NewFileLock(path)
	if err != nil {
		return 0, err
	}
	if err := lock.Acquire(); err != nil {
		return 0, err
	}
	defer lock.Release()

	return t.load(path)[key], nil
}

// load reads the counter map, treating a missing file as empty. A file
// that exists but will not parse is reset rather than trusted: issuance
// must keep working, and a warning flags the repaired state.
func (t *TagIssuer) load(path string) map[string]int {
	counters := make(map[string]int)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("counter file unreadable, resetting counters", "path", path, "error", err)
		}
		return counters
	}

	if err := json.Unmarshal(data, &counters); err != nil {
		slog.Warn("counter file corrupt, resetting counters", "path", path, "error", err)
		return make(map[string]int)
	}
	return counters
}

// persist writes the counter map via temp file + rename so a crash
// mid-write never leaves a truncated counter blob.
func (t *TagIssuer) persist(path string, counters map[string]int) error {
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding counters: %v", ErrCounterPersist, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrCounterPersist, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming counter file: %v", ErrCounterPersist, err)
	}
	return nil
}
