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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
)

// feasibilityFactors are the five ISO 21434 attack potential factors,
// in table order.
var feasibilityFactors = []string{
	"elapsedTime",
	"specialistExpertise",
	"knowledgeOfItem",
	"windowOfOpportunity",
	"equipmentRequired",
}

// RunAttackFeasibility is stage 6: one feasibility record per attack
// path, scoring the five attack potential factors. The CVEs cited by
// the path and its vulnerability refs are rolled up and drive the
// retrieval context. Paths whose output lacks a usable feasibility
// block are skipped.
func (p *Pipeline) RunAttackFeasibility(ctx context.Context, assetID string) (out []AttackFeasibility, err error) {
	ctx, span := startStage(ctx, StageFeasibility, attribute.String("asset.id", assetID))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 6: attack feasibility ===", "asset", assetID)

	paths, err := requireUpstream(AttackPathRepo(run), "attack path generation")
	if err != nil {
		return nil, err
	}
	tagFilter, err := resolveAssetTag(run, assetID)
	if err != nil {
		return nil, err
	}
	if assetID != "" && tagFilter == "" {
		slog.Warn("No asset found, skipping attack feasibility", "identifier", assetID)
		return nil, nil
	}
	if tagFilter != "" {
		paths = filterPathsByTag(paths, tagFilter)
		if len(paths) == 0 {
			slog.Warn("No attack paths for asset, skipping attack feasibility", "assetTag", tagFilter)
			return nil, nil
		}
	}
	slog.Info("Loaded attack paths", "paths", len(paths))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptAttackFeasibility)
	if err != nil {
		return nil, err
	}

	repo := FeasibilityRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	for _, path := range paths {
		mappedCVEs := collectPathCVEs(path)

		ragContext, ctxErr := rag.FeasibilityContext(ctx, p.search, mappedCVEs)
		if ctxErr != nil {
			err = fmt.Errorf("retrieving feasibility context for %s: %w", path.PathID, ctxErr)
			return out, err
		}

		cveList, _ := json.Marshal(mappedCVEs)
		structuredInput := fmt.Sprintf(`
####
threatId = %s
threat_scenario = (see associated threat)
attack_paths = ["%s"]
mappedCVE = %s
cwe = [%s]
####
`, path.ThreatID, path.PathID, cveList, path.CWEID)
		userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

		raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
		if genErr != nil {
			slog.Error("Attack feasibility call failed, skipping",
				"pathId", path.PathID, "error", genErr)
			stageFailures.WithLabelValues(StageFeasibility).Inc()
			continue
		}

		parsed, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr != nil {
			slog.Error("Failed to parse feasibility JSON",
				"pathId", path.PathID, "error", parseErr)
			stageFailures.WithLabelValues(StageFeasibility).Inc()
			continue
		}

		feas, ok := feasibilityFromOutput(parsed, path, raw)
		if !ok {
			slog.Error("Feasibility output missing factor scores", "pathId", path.PathID)
			stageFailures.WithLabelValues(StageFeasibility).Inc()
			continue
		}
		if err = repo.Append(feas); err != nil {
			return out, err
		}
		out = append(out, feas)
		recordsWritten.WithLabelValues(StageFeasibility).Inc()
	}

	slog.Info("Stage 6 complete", "records", len(out), "path", repo.Path())
	return out, nil
}

// collectPathCVEs rolls up the primary CVE and every vulnerability ref
// CVE of a path, preserving order.
func collectPathCVEs(path AttackPath) []string {
	var cves []string
	if path.CVEID != "" {
		cves = append(cves, path.CVEID)
	}
	for _, ref := range path.Vulnerabilities {
		if ref.CVEID != "" {
			cves = append(cves, ref.CVEID)
		}
	}
	return cves
}

// feasibilityFromOutput builds the record from the parsed feasibility
// block. All five factor scores must be present; the total is taken
// from the output when given, otherwise summed.
func feasibilityFromOutput(parsed map[string]any, path AttackPath, raw string) (AttackFeasibility, bool) {
	block, ok := llm.GetMap(parsed, "feasibility")
	if !ok {
		return AttackFeasibility{}, false
	}

	scores := make(map[string]int, len(feasibilityFactors))
	for _, factor := range feasibilityFactors {
		factorBlock, ok := llm.GetMap(block, factor)
		if !ok {
			return AttackFeasibility{}, false
		}
		score, ok := llm.GetInt(factorBlock, "score")
		if !ok {
			return AttackFeasibility{}, false
		}
		scores[factor] = score
	}

	total, ok := llm.GetInt(block, "totalScore")
	if !ok {
		for _, score := range scores {
			total += score
		}
	}

	mappedCVEs := llm.GetStringList(parsed, "mappedCVE")
	if len(mappedCVEs) == 0 {
		mappedCVEs = collectPathCVEs(path)
	}
	cwes := llm.GetStringList(parsed, "cwe")
	if len(cwes) == 0 && path.CWEID != "" {
		cwes = []string{path.CWEID}
	}

	return AttackFeasibility{
		FeasibilityID:       uuid.NewString(),
		ThreatID:            llm.GetString(parsed, "threatId", path.ThreatID),
		PathID:              path.PathID,
		AssetTag:            path.AssetTag,
		MappedCVE:           mappedCVEs,
		CWE:                 cwes,
		ElapsedTime:         scores["elapsedTime"],
		SpecialistExpertise: scores["specialistExpertise"],
		KnowledgeOfItem:     scores["knowledgeOfItem"],
		WindowOfOpportunity: scores["windowOfOpportunity"],
		EquipmentRequired:   scores["equipmentRequired"],
		TotalScore:          total,
		AttackPotential:     llm.GetString(block, "attackPotential", ""),
		AttackFeasibility:   NormalizeFeasibility(llm.GetString(block, "attackFeasibility", "")),
		RawLLMOutput:        raw,
	}, true
}

func filterPathsByTag(paths []AttackPath, tag string) []AttackPath {
	var filtered []AttackPath
	for _, p := range paths {
		if p.AssetTag == tag {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
