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

// RunThreatScenarios is stage 4: one threat scenario per damage
// scenario, describing how the damage could be brought about and over
// which attack vectors. When the output is not valid JSON the marker
// sentence is kept and the vectors stay empty; a damage scenario whose
// asset record has vanished is skipped.
func (p *Pipeline) RunThreatScenarios(ctx context.Context, assetID string) (out []ThreatScenario, err error) {
	ctx, span := startStage(ctx, StageThreats, attribute.String("asset.id", assetID))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 4: threat scenarios ===", "asset", assetID)

	damages, err := requireUpstream(DamageRepo(run), "damage scenario generation")
	if err != nil {
		return nil, err
	}
	assets, err := requireUpstream(AssetRepo(run), "asset extraction")
	if err != nil {
		return nil, err
	}

	assets, tagFilter := FilterAssets(assets, assetID)
	if assetID != "" && len(assets) == 0 {
		slog.Warn("No asset found, skipping threat scenarios", "identifier", assetID)
		return nil, nil
	}
	if tagFilter != "" {
		damages = filterDamagesByTag(damages, tagFilter)
		if len(damages) == 0 {
			slog.Warn("No damage scenarios for asset, skipping threat scenarios", "assetTag", tagFilter)
			return nil, nil
		}
	}

	assetByID := make(map[string]Asset, len(assets))
	for _, a := range assets {
		assetByID[a.AssetID] = a
	}
	slog.Info("Loaded inputs", "damage_scenarios", len(damages), "assets", len(assets))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptThreatScenario)
	if err != nil {
		return nil, err
	}

	tags := store.NewTagIssuer(run)
	repo := ThreatRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	for _, ds := range damages {
		asset, ok := assetByID[ds.AssetID]
		if !ok {
			slog.Warn("No asset for damage scenario",
				"damageId", ds.DamageID, "assetId", ds.AssetID)
			stageFailures.WithLabelValues(StageThreats).Inc()
			continue
		}

		ragContext, ctxErr := rag.ThreatContext(ctx, p.search, asset.Type)
		if ctxErr != nil {
			err = fmt.Errorf("retrieving threat context for %s: %w", asset.AssetTag, ctxErr)
			return out, err
		}

		structuredInput := fmt.Sprintf(`
####
damageId = %s
assetId = %s
cyber_property = %s
damage_scenario = %s
####
`, ds.DamageID, ds.AssetID, ds.CyberProperty, ds.OneSentence)
		userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

		raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
		if genErr != nil {
			slog.Error("Threat scenario call failed, skipping",
				"damageId", ds.DamageID, "error", genErr)
			stageFailures.WithLabelValues(StageThreats).Inc()
			continue
		}

		threatID, tagErr := NextThreatID(tags)
		if tagErr != nil {
			err = tagErr
			return out, err
		}

		threat := ThreatScenario{
			ThreatID:     threatID,
			DamageID:     ds.DamageID,
			AssetID:      ds.AssetID,
			AssetTag:     ds.AssetTag,
			RawLLMOutput: raw,
		}
		parsed, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr != nil {
			// Fall back to the marker sentence without vectors.
			threat.CyberProperty = ds.CyberProperty
			threat.OneSentence = llm.ExtractBetweenMarkers(raw, llm.Marker)
		} else {
			threat.CyberProperty = NormalizeCyberProperty(
				llm.GetString(parsed, "cyber_property", ds.CyberProperty))
			threat.OneSentence = llm.GetString(parsed, "one_sentence",
				llm.GetString(parsed, "threat_scenario", ""))
			threat.AttackVectors = llm.GetStringList(parsed, "attack_vectors")
		}

		if err = repo.Append(threat); err != nil {
			return out, err
		}
		out = append(out, threat)
		recordsWritten.WithLabelValues(StageThreats).Inc()
	}

	slog.Info("Stage 4 complete", "threats", len(out), "path", repo.Path())
	return out, nil
}
