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

// RunRiskValues is stage 7: the final risk matrix determination. Impact
// ratings and attack feasibilities are joined through their threat
// scenarios (impact by damageId, feasibility by threatId), and the
// model places each pair on the risk matrix for the given stakeholder.
func (p *Pipeline) RunRiskValues(ctx context.Context, assetID, stakeholder string) (out []RiskValue, err error) {
	if stakeholder == "" {
		stakeholder = "Road User"
	}
	ctx, span := startStage(ctx, StageRisk,
		attribute.String("asset.id", assetID),
		attribute.String("stakeholder", stakeholder))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 7: risk values ===", "asset", assetID, "stakeholder", stakeholder)

	impacts, err := requireUpstream(ImpactRepo(run), "impact rating")
	if err != nil {
		return nil, err
	}
	feasibilities, err := requireUpstream(FeasibilityRepo(run), "attack feasibility")
	if err != nil {
		return nil, err
	}
	threats, err := requireUpstream(ThreatRepo(run), "threat scenario generation")
	if err != nil {
		return nil, err
	}

	tagFilter, err := resolveAssetTag(run, assetID)
	if err != nil {
		return nil, err
	}
	if assetID != "" && tagFilter == "" {
		slog.Warn("No asset found, skipping risk values", "identifier", assetID)
		return nil, nil
	}
	if tagFilter != "" {
		threats = filterThreatsByTag(threats, tagFilter)
		threatIDs := make(map[string]bool, len(threats))
		damageIDs := make(map[string]bool, len(threats))
		for _, t := range threats {
			threatIDs[t.ThreatID] = true
			damageIDs[t.DamageID] = true
		}
		impacts = filterImpacts(impacts, damageIDs)
		feasibilities = filterFeasibilities(feasibilities, threatIDs)
		if len(threats) == 0 || len(impacts) == 0 || len(feasibilities) == 0 {
			slog.Warn("Missing inputs for asset, skipping risk values", "assetTag", tagFilter)
			return nil, nil
		}
	}
	slog.Info("Loaded inputs",
		"impacts", len(impacts), "feasibilities", len(feasibilities), "threats", len(threats))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptRiskValues)
	if err != nil {
		return nil, err
	}
	ragContext, err := rag.RiskContext(ctx, p.search)
	if err != nil {
		return nil, fmt.Errorf("retrieving risk context: %w", err)
	}

	repo := RiskRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	feasByThreat := make(map[string]AttackFeasibility, len(feasibilities))
	for _, f := range feasibilities {
		feasByThreat[f.ThreatID] = f
	}

	for _, impact := range impacts {
		for _, threat := range threats {
			if threat.DamageID != impact.DamageID {
				continue
			}
			feas, ok := feasByThreat[threat.ThreatID]
			if !ok {
				slog.Warn("No feasibility for threat", "threatId", threat.ThreatID)
				stageFailures.WithLabelValues(StageRisk).Inc()
				continue
			}

			var impactScores map[string]int
			if stakeholder == "Road User" {
				impactScores = impact.RoadUserSFOP
			} else {
				impactScores = impact.OEMRFOIP
			}
			if len(impactScores) == 0 {
				slog.Warn("No impact scores for stakeholder",
					"stakeholder", stakeholder, "damageId", impact.DamageID)
				stageFailures.WithLabelValues(StageRisk).Inc()
				continue
			}

			// The feasibility level translates into the attack potential
			// axis of the risk matrix.
			attackPotential := Normalize("attackPotential", feas.AttackFeasibility)

			scoresJSON, _ := json.Marshal(impactScores)
			structuredInput := fmt.Sprintf(`
####
threatId = %s
stakeholder = %s
impact_scores = %s
attack_potential = "%s"
####
`, threat.ThreatID, stakeholder, scoresJSON, attackPotential)
			userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

			raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
			if genErr != nil {
				slog.Error("Risk value call failed, skipping",
					"threatId", threat.ThreatID, "error", genErr)
				stageFailures.WithLabelValues(StageRisk).Inc()
				continue
			}

			parsed, parseErr := llm.ExtractJSONBlock(raw)
			if parseErr != nil {
				slog.Error("Failed to parse risk JSON",
					"threatId", threat.ThreatID, "error", parseErr)
				stageFailures.WithLabelValues(StageRisk).Inc()
				continue
			}

			impactCategory := llm.GetString(parsed, "impactCategory", "")
			riskValue, ok := llm.GetInt(parsed, "riskValue")
			if impactCategory == "" || !ok {
				slog.Error("Risk output missing impactCategory or riskValue",
					"threatId", threat.ThreatID)
				stageFailures.WithLabelValues(StageRisk).Inc()
				continue
			}

			rv := RiskValue{
				RiskID:          uuid.NewString(),
				ThreatID:        llm.GetString(parsed, "threatId", threat.ThreatID),
				AssetTag:        threat.AssetTag,
				Stakeholder:     llm.GetString(parsed, "stakeholder", stakeholder),
				ImpactCategory:  impactCategory,
				AttackPotential: Normalize("attackPotential", llm.GetString(parsed, "attackPotential", attackPotential)),
				Value:           riskValue,
				Justification:   llm.GetString(parsed, "justification", ""),
			}
			if err = repo.Append(rv); err != nil {
				return out, err
			}
			out = append(out, rv)
			recordsWritten.WithLabelValues(StageRisk).Inc()
		}
	}

	slog.Info("Stage 7 complete", "risk_values", len(out), "path", repo.Path())
	return out, nil
}

func filterImpacts(impacts []ImpactRating, damageIDs map[string]bool) []ImpactRating {
	var filtered []ImpactRating
	for _, impact := range impacts {
		if damageIDs[impact.DamageID] {
			filtered = append(filtered, impact)
		}
	}
	return filtered
}

func filterFeasibilities(feasibilities []AttackFeasibility, threatIDs map[string]bool) []AttackFeasibility {
	var filtered []AttackFeasibility
	for _, f := range feasibilities {
		if threatIDs[f.ThreatID] {
			filtered = append(filtered, f)
		}
	}
	return filtered
}
