// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AutoTARA/pkg/logging"
	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

var tracer = otel.Tracer("autotara.pipeline")

// Stage names used in log lines, metrics labels, and span names.
const (
	StageAssets      = "asset_extraction"
	StageDamage      = "damage_scenarios"
	StageImpact      = "impact_rating"
	StageThreats     = "threat_scenarios"
	StagePaths       = "attack_paths"
	StageFeasibility = "attack_feasibility"
	StageRisk        = "risk_values"
)

var (
	recordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autotara_records_written_total",
		Help: "Records appended to run CSVs, by stage.",
	}, []string{"stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autotara_stage_failures_total",
		Help: "Per-record failures skipped during stage execution, by stage.",
	}, []string{"stage"})
)

// Pipeline wires the stage runners to their dependencies: the run
// manager for storage, a generation backend, and the reference store
// for retrieval context.
type Pipeline struct {
	runs      *store.Manager
	llm       llm.Client
	search    rag.Searcher
	logger    *logging.Logger
	promptDir string
}

// Options configures a Pipeline. Runs, LLM, and Search are required;
// Logger is optional and only used to move the run log when stage 1
// switches runs.
type Options struct {
	Runs      *store.Manager
	LLM       llm.Client
	Search    rag.Searcher
	Logger    *logging.Logger
	PromptDir string // overrides embedded prompt templates when set
}

func New(opts Options) (*Pipeline, error) {
	if opts.Runs == nil {
		return nil, errors.New("pipeline: run manager is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("pipeline: generation backend is required")
	}
	if opts.Search == nil {
		return nil, errors.New("pipeline: reference searcher is required")
	}
	return &Pipeline{
		runs:      opts.Runs,
		llm:       opts.LLM,
		search:    opts.Search,
		logger:    opts.Logger,
		promptDir: opts.PromptDir,
	}, nil
}

// Runs exposes the run manager, mainly for the HTTP layer.
func (p *Pipeline) Runs() *store.Manager {
	return p.runs
}

// generate runs one LLM call for a stage. Backend defaults apply
// (temperature 0.2 unless overridden per backend).
func (p *Pipeline) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return p.llm.Generate(ctx, systemPrompt, userPrompt, llm.GenerationParams{})
}

// startStage opens a span for a stage run.
func startStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage)
	span.SetAttributes(attrs...)
	return ctx, span
}

func endStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// loadTolerant loads a repository but keeps going past undecodable
// rows: one corrupt record must not stall the whole stage. Missing
// files still fail with store.ErrRepositoryNotFound so callers can tell
// "upstream never ran" from "upstream ran with some bad rows".
func loadTolerant[T any](repo *store.Repository[T]) ([]T, error) {
	records, err := repo.LoadAll()
	if err != nil {
		var rowErrs *store.RowErrors
		if errors.As(err, &rowErrs) {
			slog.Warn("Skipping undecodable rows",
				"path", repo.Path(), "skipped", len(rowErrs.Errors))
			return records, nil
		}
		return nil, err
	}
	return records, nil
}

// requireUpstream annotates a load error with the stage dependency that
// is missing, preserving store.ErrRepositoryNotFound for the HTTP layer.
func requireUpstream[T any](repo *store.Repository[T], producedBy string) ([]T, error) {
	records, err := loadTolerant(repo)
	if err != nil {
		if errors.Is(err, store.ErrRepositoryNotFound) {
			return nil, fmt.Errorf("%s has not been generated yet (run %s first): %w",
				repo.Path(), producedBy, err)
		}
		return nil, err
	}
	return records, nil
}
