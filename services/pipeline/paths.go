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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// RunAttackPaths is stage 5: per threat scenario, retrieve catalog
// material (NVD, CWE, CAPEC, ATT&CK, ATM) and generate one or more
// attack paths. The model may answer with a single path object or an
// attack_paths array; both are accepted.
func (p *Pipeline) RunAttackPaths(ctx context.Context, assetID string) (out []AttackPath, err error) {
	ctx, span := startStage(ctx, StagePaths, attribute.String("asset.id", assetID))
	defer func() { endStage(span, err) }()

	run, err := p.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	slog.Info("=== Stage 5: vulnerability analysis & attack paths ===", "asset", assetID)

	threats, err := requireUpstream(ThreatRepo(run), "threat scenario generation")
	if err != nil {
		return nil, err
	}
	assets, err := requireUpstream(AssetRepo(run), "asset extraction")
	if err != nil {
		return nil, err
	}

	assets, tagFilter := FilterAssets(assets, assetID)
	if assetID != "" && len(assets) == 0 {
		slog.Warn("No asset found, skipping attack paths", "identifier", assetID)
		return nil, nil
	}
	if tagFilter != "" {
		threats = filterThreatsByTag(threats, tagFilter)
		if len(threats) == 0 {
			slog.Warn("No threats for asset, skipping attack paths", "assetTag", tagFilter)
			return nil, nil
		}
	}

	assetByID := make(map[string]Asset, len(assets))
	for _, a := range assets {
		assetByID[a.AssetID] = a
	}
	slog.Info("Loaded inputs", "threats", len(threats), "assets", len(assets))

	systemPrompt, err := llm.LoadPrompt(p.promptDir, llm.PromptVulnAttackPath)
	if err != nil {
		return nil, err
	}

	tags := store.NewTagIssuer(run)
	repo := AttackPathRepo(run)
	if err = repo.EnsureSchema(); err != nil {
		return nil, err
	}

	for _, threat := range threats {
		asset, ok := assetByID[threat.AssetID]
		if !ok {
			slog.Warn("No asset for threat",
				"threatId", threat.ThreatID, "assetId", threat.AssetID)
			stageFailures.WithLabelValues(StagePaths).Inc()
			continue
		}

		software := make([]string, 0, len(asset.SoftwareStack))
		for _, sw := range asset.SoftwareStack {
			software = append(software, sw.Name)
		}
		ragContext, ctxErr := rag.VulnContext(ctx, p.search, asset.Type, software, threat.AttackVectors)
		if ctxErr != nil {
			err = fmt.Errorf("retrieving vulnerability context for %s: %w", threat.ThreatID, ctxErr)
			return out, err
		}

		vectors, _ := json.Marshal(threat.AttackVectors)
		structuredInput := fmt.Sprintf(`
####
threatId = %s
assetId = %s
damageId = %s
threat_scenario = %s
attack_vectors = %s
####
`, threat.ThreatID, threat.AssetID, threat.DamageID, threat.OneSentence, vectors)
		userPrompt := llm.BuildPromptWithContext(ragContext, structuredInput, "")

		raw, genErr := p.generate(ctx, systemPrompt, userPrompt)
		if genErr != nil {
			slog.Error("Attack path call failed, skipping",
				"threatId", threat.ThreatID, "error", genErr)
			stageFailures.WithLabelValues(StagePaths).Inc()
			continue
		}

		parsed, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr != nil {
			slog.Error("Failed to parse attack path JSON",
				"threatId", threat.ThreatID, "error", parseErr)
			stageFailures.WithLabelValues(StagePaths).Inc()
			continue
		}

		pathsData := llm.GetMapList(parsed, "attack_paths")
		if len(pathsData) == 0 {
			pathsData = []map[string]any{parsed}
		}

		for _, pd := range pathsData {
			pathID, tagErr := NextAttackPathID(tags)
			if tagErr != nil {
				err = tagErr
				return out, err
			}
			path := AttackPath{
				PathID:          pathID,
				ThreatID:        threat.ThreatID,
				AssetID:         threat.AssetID,
				AssetTag:        threat.AssetTag,
				DamageID:        threat.DamageID,
				Vulnerabilities: vulnRefsFromEntries(llm.GetMapList(pd, "vulnerabilities")),
				EntryVector:     llm.GetString(pd, "entry_vector", ""),
				Backing:         llm.GetString(pd, "backing", "potential_generated"),
				CVEID:           llm.GetString(pd, "cve_id", ""),
				CWEID:           llm.GetString(pd, "cwe_id", ""),
				ATTCKTechniques: llm.GetStringList(pd, "attck_techniques"),
				CAPECIDs:        llm.GetStringList(pd, "capec_ids"),
				ATMIDs:          llm.GetStringList(pd, "atm_ids"),
				Steps:           llm.GetStringList(pd, "steps"),
				RawLLMOutput:    raw,
			}
			if err = repo.Append(path); err != nil {
				return out, err
			}
			out = append(out, path)
			recordsWritten.WithLabelValues(StagePaths).Inc()
		}
	}

	slog.Info("Stage 5 complete", "paths", len(out), "path", repo.Path())
	return out, nil
}

// vulnRefsFromEntries converts parsed vulnerability objects into refs,
// silently dropping entries that do not decode.
func vulnRefsFromEntries(entries []map[string]any) []VulnerabilityRef {
	var refs []VulnerabilityRef
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		var ref VulnerabilityRef
		if err := json.Unmarshal(data, &ref); err != nil {
			continue
		}
		if ref.Backing == "" {
			ref.Backing = "potential_generated"
		}
		refs = append(refs, ref)
	}
	return refs
}

func filterThreatsByTag(threats []ThreatScenario, tag string) []ThreatScenario {
	var filtered []ThreatScenario
	for _, t := range threats {
		if t.AssetTag == tag {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
