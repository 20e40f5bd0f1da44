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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// RunAssetExtraction is stage 1: it reads a SysML model JSON file,
// extracts assets with the generation backend, mints sequential tags,
// and writes assets.csv into a fresh run.
//
// A new run directory is started for every extraction (reusing the
// current one only if it is still empty); forceNewRun skips the reuse
// check. The run log is redirected into the new directory.
func (p *Pipeline) RunAssetExtraction(ctx context.Context, modelPath string, forceNewRun bool) (assets []Asset, err error) {
	ctx, span := startStage(ctx, StageAssets, attribute.String("model.path", modelPath))
	defer func() { endStage(span, err) }()

	run, err := p.runs.StartNewRun(forceNewRun)
	if err != nil {
		return nil, err
	}
	if p.logger != nil {
		if redirectErr := p.logger.Redirect(run.Dir); redirectErr != nil {
			slog.Warn("Could not move run log", "run", run.Name, "error", redirectErr)
		}
	}
	slog.Info("=== Stage 1: asset extraction ===", "model", modelPath, "run", run.Name)

	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading SysML model: %w", err)
	}
	var model any
	if err = json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("parsing SysML model %s: %w", modelPath, err)
	}
	pretty, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering SysML model: %w", err)
	}

	// No asset exists yet, so context retrieval runs against a nominal
	// ECU query covering definitions and examples.
	ragContext, err := rag.AssetDefinitionContext(ctx, p.search, "ECU")
	if err != nil {
		return nil, fmt.Errorf("retrieving asset definition context: %w", err)
	}
	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptAssetRegister)
	if err != nil {
		return nil, err
	}
	userPrompt := fmt.Sprintf(`You are given an automotive SysML model in JSON format.

Use the above system instructions and the RAG context below to extract
ALL assets and their attributes from the model.

RAG CONTEXT:
%s

SYSML MODEL (JSON):
%s
`, ragContext, pretty)

	raw, err := p.generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("asset extraction call: %w", err)
	}
	slog.Info("Asset extraction call completed", "output_length", len(raw))

	parsed, err := llm.ExtractJSONBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing asset JSON from model output: %w", err)
	}

	tags := store.NewTagIssuer(run)
	for _, entry := range llm.GetMapList(parsed, "assets") {
		asset, ok := assetFromEntry(entry)
		if !ok {
			slog.Warn("Skipping invalid asset entry", "entry", entry)
			stageFailures.WithLabelValues(StageAssets).Inc()
			continue
		}
		tag, tagErr := NextAssetTag(tags)
		if tagErr != nil {
			err = tagErr
			return nil, err
		}
		asset.AssetTag = tag
		assets = append(assets, asset)
	}

	repo := AssetRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}
	if err = repo.AppendAll(assets); err != nil {
		return nil, err
	}
	recordsWritten.WithLabelValues(StageAssets).Add(float64(len(assets)))
	slog.Info("Stage 1 complete", "assets", len(assets), "path", repo.Path())
	return assets, nil
}

// assetFromEntry validates one parsed asset object. Entries missing
// required identity fields or carrying an unknown type are rejected;
// cyber properties get normalized into the closed set.
func assetFromEntry(entry map[string]any) (Asset, bool) {
	data, err := json.Marshal(entry)
	if err != nil {
		return Asset{}, false
	}
	var asset Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return Asset{}, false
	}
	if asset.AssetID == "" || asset.ItemID == "" || asset.Description == "" {
		return Asset{}, false
	}
	if !slices.Contains(AssetTypes, asset.Type) {
		return Asset{}, false
	}
	for i, prop := range asset.CyberProperties {
		asset.CyberProperties[i] = NormalizeCyberProperty(prop)
	}
	asset.AssetTag = "" // tags are minted here, never trusted from output
	return asset, true
}
