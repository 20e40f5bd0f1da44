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
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileLock provides advisory file locking around counter persistence so
// two processes sharing a run directory cannot both issue the same tag.
//
// # Thread Safety
//
// FileLock is NOT safe for concurrent use. Each caller should hold its
// own instance; in-process serialization is the TagIssuer's job.
//
// # Platform Support
//
// Uses flock(2). Advisory only: cooperating processes must all go
// through the lock.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock guarding the named file. The lock file
// lives alongside it with a ".lock" suffix.
func NewFileLock(guarded string) (*FileLock, error) {
	if guarded == "" {
		return nil, fmt.Errorf("%w: empty lock target", ErrConfiguration)
	}
	return &FileLock{path: guarded + ".lock"}, nil
}

// Acquire takes the exclusive lock, blocking until it is free.
func (l *FileLock) Acquire() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("%w: creating lock directory: %v", ErrLockAcquire, err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("%w: opening lock file: %v", ErrLockAcquire, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		return fmt.Errorf("%w: flock: %v", ErrLockAcquire, err)
	}

	// Record the holder for debugging; failures here are non-fatal.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = file.WriteString(fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339)))

	l.file = file
	return nil
}

// TryAcquire takes the lock without blocking, returning ErrLockAcquire
// when another process holds it.
func (l *FileLock) TryAcquire() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("%w: creating lock directory: %v", ErrLockAcquire, err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("%w: opening lock file: %v", ErrLockAcquire, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("%w: held by another process", ErrLockAcquire)
		}
		return fmt.Errorf("%w: flock: %v", ErrLockAcquire, err)
	}

	l.file = file
	return nil
}

// Release drops the lock. Safe to call multiple times or on an
// unacquired lock.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
