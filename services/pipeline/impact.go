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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// RunImpactRatings is stage 3: one impact rating per damage scenario,
// scoring both stakeholder axes (SFOP for road users, RFOIP for the
// OEM) in a single call. Ratings whose output cannot be parsed are
// skipped, not fatal.
func (p *Pipeline) RunImpactRatings(ctx context.Context, assetID string) (out []ImpactRating, err error) {
	ctx, span := startStage(ctx, StageImpact, attribute.String("asset.id", assetID))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 3: impact ratings ===", "asset", assetID)

	damages, err := requireUpstream(DamageRepo(run), "damage scenario generation")
	if err != nil {
		return nil, err
	}
	tagFilter, err := resolveAssetTag(run, assetID)
	if err != nil {
		return nil, err
	}
	if assetID != "" && tagFilter == "" {
		slog.Warn("No asset found, skipping impact ratings", "identifier", assetID)
		return nil, nil
	}
	if tagFilter != "" {
		damages = filterDamagesByTag(damages, tagFilter)
		if len(damages) == 0 {
			slog.Warn("No damage scenarios for asset, skipping impact ratings", "assetTag", tagFilter)
			return nil, nil
		}
	}
	slog.Info("Loaded damage scenarios", "scenarios", len(damages))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptImpactRating)
	if err != nil {
		return nil, err
	}
	ragContext, err := rag.RiskContext(ctx, p.search)
	if err != nil {
		return nil, fmt.Errorf("retrieving risk context: %w", err)
	}

	tags := store.NewTagIssuer(run)
	repo := ImpactRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	for _, ds := range damages {
		structuredInput := fmt.Sprintf(`
####
damageId = %s
assetId = %s
stakeholder = Road User and OEM
damage_scenario = %s
####
`, ds.DamageID, ds.AssetID, ds.OneSentence)
		userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

		raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
		if genErr != nil {
			slog.Error("Impact rating call failed, skipping",
				"damageId", ds.DamageID, "error", genErr)
			stageFailures.WithLabelValues(StageImpact).Inc()
			continue
		}

		parsed, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr != nil {
			slog.Error("Failed to parse impact rating JSON",
				"damageId", ds.DamageID, "error", parseErr)
			stageFailures.WithLabelValues(StageImpact).Inc()
			continue
		}

		impactID, tagErr := NextImpactID(tags)
		if tagErr != nil {
			err = tagErr
			return out, err
		}
		rating := ImpactRating{
			ImpactID:     impactID,
			DamageID:     ds.DamageID,
			AssetTag:     ds.AssetTag,
			Stakeholder:  llm.GetString(parsed, "stakeholder", "Both"),
			RoadUserSFOP: llm.GetIntMap(parsed, "road_user_sfop"),
			OEMRFOIP:     llm.GetIntMap(parsed, "oem_rfoip"),
			RawLLMOutput: raw,
		}
		if err = repo.Append(rating); err != nil {
			return out, err
		}
		out = append(out, rating)
		recordsWritten.WithLabelValues(StageImpact).Inc()
	}

	slog.Info("Stage 3 complete", "ratings", len(out), "path", repo.Path())
	return out, nil
}

func filterDamagesByTag(damages []DamageScenario, tag string) []DamageScenario {
	var filtered []DamageScenario
	for _, ds := range damages {
		if ds.AssetTag == tag {
			filtered = append(filtered, ds)
		}
	}
	return filtered
}
