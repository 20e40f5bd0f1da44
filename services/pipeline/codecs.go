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
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Column orders are part of the on-disk contract; analysts consume
// these CSVs directly and downstream tooling addresses cells by header.
// Do not reorder.

// jsonCell encodes a structured field into a single CSV cell. Empty
// slices and maps render as an empty cell, not "null".
func jsonCell(v any) (string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]int:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(data)
	if s == "null" || s == "[]" || s == "{}" {
		return "", nil
	}
	return s, nil
}

// fromJSONCell decodes a structured cell, treating an empty cell as the
// zero value.
func fromJSONCell(cell string, out any) error {
	if cell == "" {
		return nil
	}
	return json.Unmarshal([]byte(cell), out)
}

func intCell(cell, column string) (int, error) {
	if cell == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cell)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", column, err)
	}
	return n, nil
}

// assetCodec maps Asset to assets.csv rows.
type assetCodec struct{}

func (assetCodec) Columns() []string {
	return []string{
		"assetTag", "assetId", "itemId", "type", "description",
		"location", "cyberProperties", "interfaces", "softwareStack",
	}
}

func (assetCodec) ToRow(a Asset) ([]string, error) {
	props, err := jsonCell(a.CyberProperties)
	if err != nil {
		return nil, err
	}
	ifaces, err := jsonCell(a.Interfaces)
	if err != nil {
		return nil, err
	}
	sw, err := jsonCell(a.SoftwareStack)
	if err != nil {
		return nil, err
	}
	return []string{
		a.AssetTag, a.AssetID, a.ItemID, a.Type, a.Description,
		a.Location, props, ifaces, sw,
	}, nil
}

func (assetCodec) FromRow(cells []string) (Asset, error) {
	a := Asset{
		AssetTag:    cells[0],
		AssetID:     cells[1],
		ItemID:      cells[2],
		Type:        cells[3],
		Description: cells[4],
		Location:    cells[5],
	}
	if err := fromJSONCell(cells[6], &a.CyberProperties); err != nil {
		return Asset{}, fmt.Errorf("column cyberProperties: %w", err)
	}
	if err := fromJSONCell(cells[7], &a.Interfaces); err != nil {
		return Asset{}, fmt.Errorf("column interfaces: %w", err)
	}
	if err := fromJSONCell(cells[8], &a.SoftwareStack); err != nil {
		return Asset{}, fmt.Errorf("column softwareStack: %w", err)
	}
	return a, nil
}

// damageCodec maps DamageScenario to damage_scenarios.csv rows.
type damageCodec struct{}

func (damageCodec) Columns() []string {
	return []string{
		"damageId", "assetId", "assetTag", "cyber_property",
		"one_sentence", "raw_llm_output", "stakeholder", "created_at",
	}
}

func (damageCodec) ToRow(d DamageScenario) ([]string, error) {
	createdAt := ""
	if !d.CreatedAt.IsZero() {
		createdAt = d.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		d.DamageID, d.AssetID, d.AssetTag, d.CyberProperty,
		d.OneSentence, d.RawLLMOutput, d.Stakeholder, createdAt,
	}, nil
}

func (damageCodec) FromRow(cells []string) (DamageScenario, error) {
	d := DamageScenario{
		DamageID:      cells[0],
		AssetID:       cells[1],
		AssetTag:      cells[2],
		CyberProperty: cells[3],
		OneSentence:   cells[4],
		RawLLMOutput:  cells[5],
		Stakeholder:   cells[6],
	}
	if cells[7] != "" {
		createdAt, err := time.Parse(time.RFC3339, cells[7])
		if err != nil {
			return DamageScenario{}, fmt.Errorf("column created_at: %w", err)
		}
		d.CreatedAt = createdAt
	}
	return d, nil
}

// impactCodec maps ImpactRating to impact_rating.csv rows.
type impactCodec struct{}

func (impactCodec) Columns() []string {
	return []string{
		"impactId", "damageId", "assetTag", "stakeholder",
		"road_user_sfop", "oem_rfoip", "raw_llm_output",
	}
}

func (impactCodec) ToRow(r ImpactRating) ([]string, error) {
	sfop, err := jsonCell(r.RoadUserSFOP)
	if err != nil {
		return nil, err
	}
	rfoip, err := jsonCell(r.OEMRFOIP)
	if err != nil {
		return nil, err
	}
	return []string{
		r.ImpactID, r.DamageID, r.AssetTag, r.Stakeholder,
		sfop, rfoip, r.RawLLMOutput,
	}, nil
}

func (impactCodec) FromRow(cells []string) (ImpactRating, error) {
	r := ImpactRating{
		ImpactID:     cells[0],
		DamageID:     cells[1],
		AssetTag:     cells[2],
		Stakeholder:  cells[3],
		RawLLMOutput: cells[6],
	}
	if err := fromJSONCell(cells[4], &r.RoadUserSFOP); err != nil {
		return ImpactRating{}, fmt.Errorf("column road_user_sfop: %w", err)
	}
	if err := fromJSONCell(cells[5], &r.OEMRFOIP); err != nil {
		return ImpactRating{}, fmt.Errorf("column oem_rfoip: %w", err)
	}
	return r, nil
}

// threatCodec maps ThreatScenario to threat_scenarios.csv rows.
type threatCodec struct{}

func (threatCodec) Columns() []string {
	return []string{
		"threatId", "damageId", "assetId", "assetTag",
		"cyber_property", "one_sentence", "attack_vectors", "raw_llm_output",
	}
}

func (threatCodec) ToRow(t ThreatScenario) ([]string, error) {
	vectors, err := jsonCell(t.AttackVectors)
	if err != nil {
		return nil, err
	}
	return []string{
		t.ThreatID, t.DamageID, t.AssetID, t.AssetTag,
		t.CyberProperty, t.OneSentence, vectors, t.RawLLMOutput,
	}, nil
}

func (threatCodec) FromRow(cells []string) (ThreatScenario, error) {
	t := ThreatScenario{
		ThreatID:      cells[0],
		DamageID:      cells[1],
		AssetID:       cells[2],
		AssetTag:      cells[3],
		CyberProperty: cells[4],
		OneSentence:   cells[5],
		RawLLMOutput:  cells[7],
	}
	if err := fromJSONCell(cells[6], &t.AttackVectors); err != nil {
		return ThreatScenario{}, fmt.Errorf("column attack_vectors: %w", err)
	}
	return t, nil
}

// attackPathCodec maps AttackPath to attack_paths.csv rows.
type attackPathCodec struct{}

func (attackPathCodec) Columns() []string {
	return []string{
		"pathId", "threatId", "assetId", "assetTag", "damageId",
		"vulnerabilities", "entry_vector", "backing", "cve_id", "cwe_id",
		"attck_techniques", "capec_ids", "atm_ids", "steps", "raw_llm_output",
	}
}

func (attackPathCodec) ToRow(p AttackPath) ([]string, error) {
	vulns := ""
	if len(p.Vulnerabilities) > 0 {
		data, err := json.Marshal(p.Vulnerabilities)
		if err != nil {
			return nil, err
		}
		vulns = string(data)
	}
	techniques, err := jsonCell(p.ATTCKTechniques)
	if err != nil {
		return nil, err
	}
	capecs, err := jsonCell(p.CAPECIDs)
	if err != nil {
		return nil, err
	}
	atms, err := jsonCell(p.ATMIDs)
	if err != nil {
		return nil, err
	}
	steps, err := jsonCell(p.Steps)
	if err != nil {
		return nil, err
	}
	return []string{
		p.PathID, p.ThreatID, p.AssetID, p.AssetTag, p.DamageID,
		vulns, p.EntryVector, p.Backing, p.CVEID, p.CWEID,
		techniques, capecs, atms, steps, p.RawLLMOutput,
	}, nil
}

func (attackPathCodec) FromRow(cells []string) (AttackPath, error) {
	p := AttackPath{
		PathID:       cells[0],
		ThreatID:     cells[1],
		AssetID:      cells[2],
		AssetTag:     cells[3],
		DamageID:     cells[4],
		EntryVector:  cells[6],
		Backing:      cells[7],
		CVEID:        cells[8],
		CWEID:        cells[9],
		RawLLMOutput: cells[14],
	}
	if err := fromJSONCell(cells[5], &p.Vulnerabilities); err != nil {
		return AttackPath{}, fmt.Errorf("column vulnerabilities: %w", err)
	}
	if err := fromJSONCell(cells[10], &p.ATTCKTechniques); err != nil {
		return AttackPath{}, fmt.Errorf("column attck_techniques: %w", err)
	}
	if err := fromJSONCell(cells[11], &p.CAPECIDs); err != nil {
		return AttackPath{}, fmt.Errorf("column capec_ids: %w", err)
	}
	if err := fromJSONCell(cells[12], &p.ATMIDs); err != nil {
		return AttackPath{}, fmt.Errorf("column atm_ids: %w", err)
	}
	if err := fromJSONCell(cells[13], &p.Steps); err != nil {
		return AttackPath{}, fmt.Errorf("column steps: %w", err)
	}
	return p, nil
}

// feasibilityCodec maps AttackFeasibility to attack_feasibilities.csv rows.
type feasibilityCodec struct{}

func (feasibilityCodec) Columns() []string {
	return []string{
		"feasibilityId", "threatId", "pathId", "assetTag",
		"mappedCVE", "cwe",
		"elapsedTime_score", "specialistExpertise_score", "knowledgeOfItem_score",
		"windowOfOpportunity_score", "equipmentRequired_score",
		"totalScore", "attackPotential", "attackFeasibility", "raw_llm_output",
	}
}

func (feasibilityCodec) ToRow(f AttackFeasibility) ([]string, error) {
	cves, err := jsonCell(f.MappedCVE)
	if err != nil {
		return nil, err
	}
	cwes, err := jsonCell(f.CWE)
	if err != nil {
		return nil, err
	}
	return []string{
		f.FeasibilityID, f.ThreatID, f.PathID, f.AssetTag,
		cves, cwes,
		strconv.Itoa(f.ElapsedTime), strconv.Itoa(f.SpecialistExpertise),
		strconv.Itoa(f.KnowledgeOfItem), strconv.Itoa(f.WindowOfOpportunity),
		strconv.Itoa(f.EquipmentRequired),
		strconv.Itoa(f.TotalScore), f.AttackPotential, f.AttackFeasibility,
		f.RawLLMOutput,
	}, nil
}

func (feasibilityCodec) FromRow(cells []string) (AttackFeasibility, error) {
	f := AttackFeasibility{
		FeasibilityID:     cells[0],
		ThreatID:          cells[1],
		PathID:            cells[2],
		AssetTag:          cells[3],
		AttackPotential:   cells[12],
		AttackFeasibility: cells[13],
		RawLLMOutput:      cells[14],
	}
	if err := fromJSONCell(cells[4], &f.MappedCVE); err != nil {
		return AttackFeasibility{}, fmt.Errorf("column mappedCVE: %w", err)
	}
	if err := fromJSONCell(cells[5], &f.CWE); err != nil {
		return AttackFeasibility{}, fmt.Errorf("column cwe: %w", err)
	}
	var err error
	if f.ElapsedTime, err = intCell(cells[6], "elapsedTime_score"); err != nil {
		return AttackFeasibility{}, err
	}
	if f.SpecialistExpertise, err = intCell(cells[7], "specialistExpertise_score"); err != nil {
		return AttackFeasibility{}, err
	}
	if f.KnowledgeOfItem, err = intCell(cells[8], "knowledgeOfItem_score"); err != nil {
		return AttackFeasibility{}, err
	}
	if f.WindowOfOpportunity, err = intCell(cells[9], "windowOfOpportunity_score"); err != nil {
		return AttackFeasibility{}, err
	}
	if f.EquipmentRequired, err = intCell(cells[10], "equipmentRequired_score"); err != nil {
		return AttackFeasibility{}, err
	}
	if f.TotalScore, err = intCell(cells[11], "totalScore"); err != nil {
		return AttackFeasibility{}, err
	}
	return f, nil
}

// riskCodec maps RiskValue to risk_values.csv rows.
type riskCodec struct{}

func (riskCodec) Columns() []string {
	return []string{
		"riskId", "threatId", "assetTag", "stakeholder",
		"impactCategory", "attackPotential", "riskValue", "justification",
	}
}

func (riskCodec) ToRow(r RiskValue) ([]string, error) {
	return []string{
		r.RiskID, r.ThreatID, r.AssetTag, r.Stakeholder,
		r.ImpactCategory, r.AttackPotential, strconv.Itoa(r.Value), r.Justification,
	}, nil
}

func (riskCodec) FromRow(cells []string) (RiskValue, error) {
	r := RiskValue{
		RiskID:          cells[0],
		ThreatID:        cells[1],
		AssetTag:        cells[2],
		Stakeholder:     cells[3],
		ImpactCategory:  cells[4],
		AttackPotential: cells[5],
		Justification:   cells[7],
	}
	var err error
	if r.Value, err = intCell(cells[6], "riskValue"); err != nil {
		return RiskValue{}, err
	}
	return r, nil
}
