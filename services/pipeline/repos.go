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

import "github.com/AleutianAI/AutoTARA/services/store"

// CSV evidence files inside a run directory, one per stage output.
const (
	AssetsFile              = "assets.csv"
	DamageScenariosFile     = "damage_scenarios.csv"
	ImpactRatingsFile       = "impact_rating.csv"
	ThreatScenariosFile     = "threat_scenarios.csv"
	AttackPathsFile         = "attack_paths.csv"
	AttackFeasibilitiesFile = "attack_feasibilities.csv"
	RiskValuesFile          = "risk_values.csv"
)

// EntityFiles maps the entity names accepted by the CSV download API to
// their backing files.
var EntityFiles = map[string]string{
	"assets":               AssetsFile,
	"damage_scenarios":     DamageScenariosFile,
	"impact_rating":        ImpactRatingsFile,
	"threat_scenarios":     ThreatScenariosFile,
	"attack_paths":         AttackPathsFile,
	"attack_feasibilities": AttackFeasibilitiesFile,
	"risk_values":          RiskValuesFile,
}

func AssetRepo(run *store.Run) *store.Repository[Asset] {
	return store.Open(run, AssetsFile, assetCodec{})
}

func DamageRepo(run *store.Run) *store.Repository[DamageScenario] {
	return store.Open(run, DamageScenariosFile, damageCodec{})
}

func ImpactRepo(run *store.Run) *store.Repository[ImpactRating] {
	return store.Open(run, ImpactRatingsFile, impactCodec{})
}

func ThreatRepo(run *store.Run) *store.Repository[ThreatScenario] {
	return store.Open(run, ThreatScenariosFile, threatCodec{})
}

func AttackPathRepo(run *store.Run) *store.Repository[AttackPath] {
	return store.Open(run, AttackPathsFile, attackPathCodec{})
}

func FeasibilityRepo(run *store.Run) *store.Repository[AttackFeasibility] {
	return store.Open(run, AttackFeasibilitiesFile, feasibilityCodec{})
}

func RiskRepo(run *store.Run) *store.Repository[RiskValue] {
	return store.Open(run, RiskValuesFile, riskCodec{})
}

// Sequential tag families. Counter keys and prefixes are stable: tags
// already written to CSVs must keep meaning the same family forever.

func NextAssetTag(t *store.TagIssuer) (string, error) {
	return t.NextID("asset", "A-", 4)
}

func NextDamageID(t *store.TagIssuer) (string, error) {
	return t.NextID("damage", "DS-", 4)
}

func NextImpactID(t *store.TagIssuer) (string, error) {
	return t.NextID("impact", "IM-", 4)
}

func NextThreatID(t *store.TagIssuer) (string, error) {
	return t.NextID("threat", "TS-", 4)
}

func NextAttackPathID(t *store.TagIssuer) (string, error) {
	return t.NextID("attack_path", "AP-", 4)
}
