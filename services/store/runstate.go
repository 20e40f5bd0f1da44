// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package store implements the run-scoped, append-only record store that
backs the TARA pipeline.

Every pipeline execution owns a "run": an isolated directory under the
base output location holding one CSV file per entity type, a shared
counter blob for tag issuance, and the run log. Runs are never deleted or
truncated by this package; starting a new run only ever adds a namespace.

# Components

  - Manager: resolves and switches the active run (runstate.go)
  - TagIssuer: monotonic, persisted identifier issuance (tags.go)
  - Repository[T]: append-only typed CSV storage (repository.go)

# Thread Safety

Manager serializes run switches behind a mutex so a switch cannot race
an in-flight resolution. Repositories coordinate per backing file, and
the TagIssuer combines an in-process mutex with an advisory flock so two
processes sharing a run cannot double-issue a tag.
*/
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// runPrefix marks run namespaces under the base output directory.
	// The embedded UTC timestamp makes lexicographic order chronological.
	runPrefix = "run_"

	// runTimestampLayout is second-resolution so rapid successive runs
	// still sort correctly.
	runTimestampLayout = "20060102_150405"
)

// Run is a handle to one isolated run namespace. Handles are value
// carriers: all mutating state lives in the directory they point at.
type Run struct {
	// Dir is the absolute or base-relative directory holding this run's
	// CSV files, counters, and log.
	Dir string

	// Name is the directory base name, e.g. "run_20250901_101500".
	// Empty-prefix names identify the legacy flat layout.
	Name string

	// CreatedAt is the creation time parsed from the name, zero for
	// legacy runs.
	CreatedAt time.Time

	// Reused is true when StartNewRun handed back an existing empty run
	// instead of creating a fresh one.
	Reused bool
}

// Path returns the location of a file inside this run.
func (r *Run) Path(filename string) string {
	return filepath.Join(r.Dir, filename)
}

// IsTimestamped reports whether this run lives in a run-prefixed
// namespace (as opposed to the legacy flat layout).
func (r *Run) IsTimestamped() bool {
	return strings.HasPrefix(r.Name, runPrefix)
}

// Manager owns the active-run pointer for one logical session. It is an
// injected dependency, not process state: two Managers over different
// base directories are fully independent.
type Manager struct {
	baseDir string

	mu     sync.Mutex
	active *Run
}

// NewManager creates a Manager over the base output directory, creating
// it if needed. A base directory that cannot be created is fatal: nothing
// in the pipeline can proceed without a writable namespace.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		return nil, ErrEmptyBaseDir
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: creating base directory %s: %v", ErrConfiguration, baseDir, err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the base output directory holding all runs.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// ActiveRun returns the currently active run, resolving it lazily on
// first call: the pinned run if any, else the most recent existing run
// namespace, else the base directory itself when it holds loose legacy
// files, else a freshly created run.
func (m *Manager) ActiveRun() (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active, nil
	}

	existing, err := m.latestExistingRun()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.active = existing
		return m.active, nil
	}

	run, err := m.createRun()
	if err != nil {
		return nil, err
	}
	m.active = run
	return m.active, nil
}

// StartNewRun creates and activates a new run namespace. When force is
// false and the active run is a still-empty timestamped namespace, that
// run is handed back unchanged so repeated pipeline restarts do not
// litter the output directory. Existing runs are never touched.
func (m *Manager) StartNewRun(force bool) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.active != nil && m.active.IsTimestamped() && m.isEmptyRun(m.active) {
		reused := *m.active
		reused.Reused = true
		m.active = &reused
		return m.active, nil
	}

	run, err := m.createRun()
	if err != nil {
		return nil, err
	}
	m.active = run
	return m.active, nil
}

// Activate pins an already-existing run as active, e.g. when a caller
// re-opens an earlier run to inspect its evidence. The namespace must
// exist on disk.
func (m *Manager) Activate(name string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.baseDir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, name)
	}
	m.active = &Run{
		Dir:       dir,
		Name:      name,
		CreatedAt: parseRunTime(name),
	}
	return m.active, nil
}

// ListRuns returns the names of all run namespaces, newest first.
func (m *Manager) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading base directory: %v", ErrConfiguration, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), runPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// latestExistingRun finds the lexicographically greatest run namespace,
// falling back to the base directory itself when it contains loose files
// from the pre-run flat layout.
func (m *Manager) latestExistingRun() (*Run, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading base directory: %v", ErrConfiguration, err)
	}

	var runNames []string
	legacyFiles := false
	for _, entry := range entries {
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), runPrefix) {
				runNames = append(runNames, entry.Name())
			}
			continue
		}
		legacyFiles = true
	}

	if len(runNames) > 0 {
		sort.Strings(runNames)
		name := runNames[len(runNames)-1]
		return &Run{
			Dir:       filepath.Join(m.baseDir, name),
			Name:      name,
			CreatedAt: parseRunTime(name),
		}, nil
	}

	if legacyFiles {
		slog.Info("no run namespaces found, using legacy flat layout", "dir", m.baseDir)
		return &Run{Dir: m.baseDir, Name: filepath.Base(m.baseDir)}, nil
	}
	return nil, nil
}

// createRun makes a fresh timestamped namespace. When two runs start
// within the same second the name gets a numeric suffix so every run is
// a distinct directory and ordering stays lexicographic.
func (m *Manager) createRun() (*Run, error) {
	now := time.Now().UTC()
	base := runPrefix + now.Format(runTimestampLayout)

	name := base
	for i := 2; ; i++ {
		dir := filepath.Join(m.baseDir, name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("%w: creating run directory %s: %v", ErrConfiguration, dir, err)
			}
			slog.Info("created run namespace", "run", name)
			return &Run{Dir: dir, Name: name, CreatedAt: now}, nil
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// isEmptyRun reports whether the run directory holds no evidence yet.
// The run log is ambient output, not evidence: a freshly created run
// that has only received log records still counts as empty.
func (m *Manager) isEmptyRun(run *Run) bool {
	entries, err := os.ReadDir(run.Dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Name() == "tara.log" {
			continue
		}
		return false
	}
	return true
}

func parseRunTime(name string) time.Time {
	raw := strings.TrimPrefix(name, runPrefix)
	// Collision suffixes ("run_..._2") don't parse; the zero time is fine.
	t, err := time.Parse(runTimestampLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
