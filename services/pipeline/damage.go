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
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// RunDamageScenarios is stage 2: one damage scenario per (asset, cyber
// property) pair. Assets without explicit properties get all six
// extended CIA properties. assetID narrows the stage to one asset by
// model identifier or tag; an identifier that matches nothing produces
// an empty result, not an error.
func (p *Pipeline) RunDamageScenarios(ctx context.Context, assetID, stakeholder string) (out []DamageScenario, err error) {
	if stakeholder == "" {
		stakeholder = "Road User"
	}
	ctx, span := startStage(ctx, StageDamage,
		attribute.String("asset.id", assetID),
		attribute.String("stakeholder", stakeholder))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 2: damage scenarios ===", "asset", assetID, "stakeholder", stakeholder)

	assets, err := requireUpstream(AssetRepo(run), "asset extraction")
	if err != nil {
		return nil, err
	}
	assets, _ = FilterAssets(assets, assetID)
	if assetID != "" && len(assets) == 0 {
		slog.Warn("No asset found, skipping damage scenarios", "identifier", assetID)
		return nil, nil
	}
	slog.Info("Loaded assets for damage scenario generation", "assets", len(assets))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptDamageScenario)
	if err != nil {
		return nil, err
	}

	tags := store.NewTagIssuer(run)
	repo := DamageRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	for _, asset := range assets {
		ragContext, ctxErr := rag.DamageContext(ctx, p.search, asset.Type)
		if ctxErr != nil {
			err = fmt.Errorf("retrieving damage context for %s: %w", asset.AssetTag, ctxErr)
			return nil, err
		}

		props := asset.CyberProperties
		if len(props) == 0 {
			props = CyberProperties
		}

		for _, prop := range props {
			structuredInput := fmt.Sprintf(`
####
asset = %s
asset_type = %s
cyber_property = %s
stakeholder = %s
####
`, asset.AssetID, asset.Type, prop, stakeholder)
			userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

			raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
			if genErr != nil {
				slog.Error("Damage scenario call failed, skipping",
					"assetTag", asset.AssetTag, "cyber_property", prop, "error", genErr)
				stageFailures.WithLabelValues(StageDamage).Inc()
				continue
			}
			oneSentence := llm.ExtractBetweenMarkers(raw, llm.Marker)

			damageID, tagErr := NextDamageID(tags)
			if tagErr != nil {
				err = tagErr
				return out, err
			}
			ds := DamageScenario{
				DamageID:      damageID,
				AssetID:       asset.AssetID,
				AssetTag:      asset.AssetTag,
				CyberProperty: prop,
				OneSentence:   oneSentence,
				RawLLMOutput:  raw,
				Stakeholder:   stakeholder,
				CreatedAt:     time.Now().UTC(),
			}
			if err = repo.Append(ds); err != nil {
				return out, err
			}
			out = append(out, ds)
			recordsWritten.WithLabelValues(StageDamage).Inc()
		}
	}

	slog.Info("Stage 2 complete", "scenarios", len(out), "path", repo.Path())
	return out, nil
}
