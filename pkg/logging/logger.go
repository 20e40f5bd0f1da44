// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for AutoTARA components.
//
// The logging system is built on Go's standard library slog package with
// two destinations:
//
//   - stderr: always on (unless Quiet), text or JSON format
//   - run log file: tara.log inside the active run directory
//
// The run log destination is deliberately movable. Every TARA run owns an
// isolated output directory, and the evidence trail for a run must live
// next to its CSV files. When the orchestrator switches the active run it
// calls Redirect with the new directory; all subsequent log records land
// in the new run's tara.log. Redirecting is an explicit hook, not an
// automatic observer: the component that switches the run is responsible
// for moving the log with it.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "pipeline"})
//	defer logger.Close()
//	logger.Install() // routes package-level slog calls through this logger
//
//	slog.Info("stage complete", "stage", 2, "records", n)
//
// # Thread Safety
//
// Logger is safe for concurrent use. Redirect may race with in-flight log
// calls; records observe either the old or the new destination, never a
// torn write.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// RunLogName is the log file created inside each run directory.
const RunLogName = "tara.log"

// Config configures the Logger behavior. The zero value logs Info and
// above to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON. The run log file is always
	// JSON regardless of this setting.
	JSON bool

	// Quiet disables stderr output. Records then only reach the run log
	// file, if one is active.
	Quiet bool
}

// Logger writes structured records to stderr and to the active run's
// tara.log. The file destination starts disabled and is activated (or
// moved) with Redirect.
type Logger struct {
	slog   *slog.Logger
	config Config

	// run holds the current file destination; swapped by Redirect.
	run atomic.Pointer[runFile]

	// mu serializes Redirect and Close.
	mu sync.Mutex
}

type runFile struct {
	file    *os.File
	handler slog.Handler
}

// New creates a Logger with the given configuration. The returned Logger
// has no run log file until Redirect is called.
func New(config Config) *Logger {
	l := &Logger{config: config}

	opts := &slog.HandlerOptions{Level: config.Level}
	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	handlers = append(handlers, &runHandler{logger: l})

	var handler slog.Handler = &multiHandler{handlers: handlers}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	l.slog = slog.New(handler)
	return l
}

// Redirect points the file destination at dir/tara.log, creating the file
// if needed and closing the previous one. The caller owns the decision of
// when the active run has changed; repositories and stage runners never
// call this themselves.
func (l *Logger) Redirect(dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating run log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, RunLogName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("opening run log %s: %w", path, err)
	}

	next := &runFile{
		file:    file,
		handler: slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.config.Level}),
	}
	prev := l.run.Swap(next)
	if prev != nil {
		_ = prev.file.Sync()
		_ = prev.file.Close()
	}
	l.slog.Info("log destination switched", "path", path)
	return nil
}

// Install makes this logger the process-wide slog default, so package
// level slog.Info/Warn/Error calls flow through it.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Slog returns the underlying slog.Logger for direct use.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the run log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.run.Swap(nil)
	if prev == nil {
		return nil
	}
	if err := prev.file.Sync(); err != nil {
		prev.file.Close()
		return fmt.Errorf("sync run log: %w", err)
	}
	if err := prev.file.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}

// runHandler delegates to the logger's current file destination. While no
// run is active it drops records silently.
type runHandler struct {
	logger *Logger
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	run := h.logger.run.Load()
	return run != nil && run.handler.Enabled(ctx, level)
}

func (h *runHandler) Handle(ctx context.Context, r slog.Record) error {
	run := h.logger.run.Load()
	if run == nil {
		return nil
	}
	return run.handler.Handle(ctx, r)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attributes are applied by the enclosing multiHandler; the file
	// destination changes at runtime so attrs are replayed per record.
	return &attrHandler{inner: h, attrs: attrs}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return &groupHandler{inner: h, group: name}
}

// attrHandler replays fixed attributes onto records bound for a handler
// whose concrete destination can change underneath it.
type attrHandler struct {
	inner slog.Handler
	attrs []slog.Attr
}

func (h *attrHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *attrHandler) Handle(ctx context.Context, r slog.Record) error {
	clone := r.Clone()
	clone.AddAttrs(h.attrs...)
	return h.inner.Handle(ctx, clone)
}

func (h *attrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &attrHandler{inner: h.inner, attrs: merged}
}

func (h *attrHandler) WithGroup(name string) slog.Handler {
	return &groupHandler{inner: h, group: name}
}

type groupHandler struct {
	inner slog.Handler
	group string
}

func (h *groupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *groupHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *groupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{inner: h, attrs: attrs}
}

func (h *groupHandler) WithGroup(name string) slog.Handler {
	return &groupHandler{inner: h, group: name}
}

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
