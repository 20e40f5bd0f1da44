// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_NoRunLogBeforeRedirect(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	// Must not panic or create files anywhere.
	logger.Slog().Info("dropped on the floor")
}

func TestLogger_RedirectWritesToRunDir(t *testing.T) {
	tempDir := t.TempDir()
	logger := New(Config{Quiet: true, Service: "test"})
	defer logger.Close()

	if err := logger.Redirect(tempDir); err != nil {
		t.Fatalf("Redirect failed: %v", err)
	}
	logger.Slog().Info("record one", "stage", 2)

	data, err := os.ReadFile(filepath.Join(tempDir, RunLogName))
	if err != nil {
		t.Fatalf("run log not created: %v", err)
	}
	if !strings.Contains(string(data), "record one") {
		t.Errorf("run log missing record, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"test"`) {
		t.Errorf("run log missing service attribute, got: %s", data)
	}
}

func TestLogger_RedirectMovesDestination(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if err := logger.Redirect(dirA); err != nil {
		t.Fatalf("Redirect(dirA) failed: %v", err)
	}
	logger.Slog().Info("in run A")

	if err := logger.Redirect(dirB); err != nil {
		t.Fatalf("Redirect(dirB) failed: %v", err)
	}
	logger.Slog().Info("in run B")

	dataA, err := os.ReadFile(filepath.Join(dirA, RunLogName))
	if err != nil {
		t.Fatalf("run A log missing: %v", err)
	}
	dataB, err := os.ReadFile(filepath.Join(dirB, RunLogName))
	if err != nil {
		t.Fatalf("run B log missing: %v", err)
	}

	if strings.Contains(string(dataA), "in run B") {
		t.Error("record for run B leaked into run A's log")
	}
	if !strings.Contains(string(dataB), "in run B") {
		t.Errorf("run B log missing its record, got: %s", dataB)
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Redirect(t.TempDir()); err != nil {
		t.Fatalf("Redirect failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
