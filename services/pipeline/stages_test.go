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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// fakeLLM replays canned responses in order, repeating the last one
// once the queue runs out. User prompts are kept for assertions.
type fakeLLM struct {
	responses []string
	prompts   []string
}

func (f *fakeLLM) Generate(_ context.Context, _, userPrompt string, _ llm.GenerationParams) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

// flakyLLM wraps fakeLLM and fails one call (zero-based) with a
// backend error instead of returning a response.
type flakyLLM struct {
	fakeLLM
	failCall int
}

func (f *flakyLLM) Generate(ctx context.Context, system, userPrompt string, params llm.GenerationParams) (string, error) {
	call := len(f.prompts)
	raw, err := f.fakeLLM.Generate(ctx, system, userPrompt, params)
	if call == f.failCall {
		return "", errors.New("model backend unavailable")
	}
	return raw, err
}

type emptySearch struct{}

func (emptySearch) Search(context.Context, string, int, map[string]string) ([]rag.Document, error) {
	return nil, nil
}

func newTestPipeline(t *testing.T, backend llm.Client) (*Pipeline, *store.Manager) {
	t.Helper()
	mgr, err := store.NewManager(t.TempDir())
	require.NoError(t, err)
	p, err := New(Options{Runs: mgr, LLM: backend, Search: emptySearch{}})
	require.NoError(t, err)
	return p, mgr
}

func seedAssets(t *testing.T, mgr *store.Manager, assets ...Asset) *store.Run {
	t.Helper()
	run, err := mgr.StartNewRun(false)
	require.NoError(t, err)
	require.NoError(t, AssetRepo(run).AppendAll(assets))
	return run
}

func TestRunAssetExtraction(t *testing.T) {
	response := "```json\n" + `{
	  "assets": [
	    {"assetId": "ECU-BRAKE-01", "itemId": "item-1", "type": "ECU",
	     "description": "Brake control unit", "cyberProperties": ["integ", "avail"]},
	    {"assetId": "SENSOR-WHEEL-01", "itemId": "item-2", "type": "Sensor",
	     "description": "Wheel speed sensor"},
	    {"assetId": "", "itemId": "item-3", "type": "ECU", "description": "missing id"},
	    {"assetId": "X-1", "itemId": "item-4", "type": "Spaceship", "description": "bad type"}
	  ]
	}` + "\n```"
	backend := &fakeLLM{responses: []string{response}}
	p, mgr := newTestPipeline(t, backend)

	modelPath := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(modelPath, []byte(`{"blocks":[{"name":"BrakeECU"}]}`), 0o640))

	assets, err := p.RunAssetExtraction(context.Background(), modelPath, false)
	require.NoError(t, err)

	require.Len(t, assets, 2, "invalid entries are skipped")
	assert.Equal(t, "A-0001", assets[0].AssetTag)
	assert.Equal(t, "A-0002", assets[1].AssetTag)
	assert.Equal(t, []string{"Integrity", "Availability"}, assets[0].CyberProperties)

	require.Len(t, backend.prompts, 1)
	assert.Contains(t, backend.prompts[0], "BrakeECU", "model JSON travels in the prompt")

	run, err := mgr.ActiveRun()
	require.NoError(t, err)
	stored, err := AssetRepo(run).LoadAll()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunAssetExtractionBadModelFile(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeLLM{responses: []string{"{}"}})

	modelPath := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(modelPath, []byte("not json"), 0o640))

	_, err := p.RunAssetExtraction(context.Background(), modelPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SysML model")
}

func TestRunDamageScenarios(t *testing.T) {
	backend := &fakeLLM{responses: []string{
		"Reasoning first.\n!!!!\nLoss of brake command integrity endangers the road user.\n!!!!",
	}}
	p, mgr := newTestPipeline(t, backend)
	seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU",
			Description: "brake ecu", CyberProperties: []string{"Integrity"}},
		Asset{AssetTag: "A-0002", AssetID: "SENSOR-WHEEL-01", ItemID: "i2", Type: "Sensor",
			Description: "wheel sensor"},
	)

	out, err := p.RunDamageScenarios(context.Background(), "", "Road User")
	require.NoError(t, err)

	// One property for the first asset, all six defaults for the second.
	require.Len(t, out, 7)
	assert.Equal(t, "DS-0001", out[0].DamageID)
	assert.Equal(t, "Integrity", out[0].CyberProperty)
	assert.Equal(t, "Loss of brake command integrity endangers the road user.", out[0].OneSentence)
	assert.Equal(t, "Road User", out[0].Stakeholder)
	assert.False(t, out[0].CreatedAt.IsZero())

	seen := map[string]bool{}
	for _, ds := range out[1:] {
		assert.Equal(t, "A-0002", ds.AssetTag)
		seen[ds.CyberProperty] = true
	}
	assert.Len(t, seen, 6, "asset without properties gets all six")

	assert.Contains(t, backend.prompts[0], "asset = ECU-BRAKE-01")
	assert.Contains(t, backend.prompts[0], "cyber_property = Integrity")
	assert.Contains(t, backend.prompts[0], "stakeholder = Road User")
}

func TestRunDamageScenariosFiltersByAsset(t *testing.T) {
	backend := &fakeLLM{responses: []string{"!!!! one sentence !!!!"}}
	p, mgr := newTestPipeline(t, backend)
	seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU",
			Description: "brake ecu", CyberProperties: []string{"Integrity"}},
		Asset{AssetTag: "A-0002", AssetID: "SENSOR-WHEEL-01", ItemID: "i2", Type: "Sensor",
			Description: "wheel sensor", CyberProperties: []string{"Availability"}},
	)

	out, err := p.RunDamageScenarios(context.Background(), "A-0002", "OEM")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "A-0002", out[0].AssetTag)

	out, err = p.RunDamageScenarios(context.Background(), "nonexistent", "OEM")
	require.NoError(t, err)
	assert.Empty(t, out, "unknown identifier yields empty result, not an error")
}

func TestRunDamageScenariosSkipsFailedGeneration(t *testing.T) {
	backend := &flakyLLM{
		fakeLLM:  fakeLLM{responses: []string{"!!!!\nA damage scenario sentence.\n!!!!"}},
		failCall: 1,
	}
	p, mgr := newTestPipeline(t, backend)
	seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU",
			Description: "brake ecu",
			CyberProperties: []string{"Integrity", "Availability", "Confidentiality"}},
	)

	out, err := p.RunDamageScenarios(context.Background(), "", "Road User")
	require.NoError(t, err, "one failed call must not abort the stage")

	require.Len(t, out, 2, "the failed property is skipped, the rest survive")
	assert.Equal(t, "Integrity", out[0].CyberProperty)
	assert.Equal(t, "Confidentiality", out[1].CyberProperty)
	assert.Len(t, backend.prompts, 3, "every property is still attempted")

	run, err := mgr.ActiveRun()
	require.NoError(t, err)
	stored, err := DamageRepo(run).LoadAll()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunDamageScenariosWithoutAssets(t *testing.T) {
	p, mgr := newTestPipeline(t, &fakeLLM{responses: []string{"!!!! x !!!!"}})
	_, err := mgr.StartNewRun(false)
	require.NoError(t, err)

	_, err = p.RunDamageScenarios(context.Background(), "", "Road User")
	require.ErrorIs(t, err, store.ErrRepositoryNotFound)
}

func seedDamages(t *testing.T, run *store.Run, damages ...DamageScenario) {
	t.Helper()
	require.NoError(t, DamageRepo(run).AppendAll(damages))
}

func TestRunImpactRatings(t *testing.T) {
	backend := &fakeLLM{responses: []string{"```json\n" + `{
	  "stakeholder": "Both",
	  "road_user_sfop": {"safety": 3, "financial": 1, "operational": 2, "privacy": 0},
	  "oem_rfoip": {"reputation": 2, "financial": 2, "operational": 1, "ip": 0},
	  "justification": "Loss of braking is a direct safety hazard."
	}` + "\n```"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	seedDamages(t, run, DamageScenario{
		DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "Loss of braking.",
		RawLLMOutput: "raw", Stakeholder: "Road User", CreatedAt: time.Now().UTC(),
	})

	out, err := p.RunImpactRatings(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "IM-0001", out[0].ImpactID)
	assert.Equal(t, "DS-0001", out[0].DamageID)
	assert.Equal(t, "Both", out[0].Stakeholder)
	assert.Equal(t, 3, out[0].RoadUserSFOP["safety"])
	assert.Equal(t, 2, out[0].OEMRFOIP["reputation"])
	assert.Contains(t, backend.prompts[0], "damageId = DS-0001")
	assert.Contains(t, backend.prompts[0], "stakeholder = Road User and OEM")
}

func TestRunImpactRatingsSkipsUnparseable(t *testing.T) {
	backend := &fakeLLM{responses: []string{"no json here at all"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	seedDamages(t, run, DamageScenario{
		DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "x", RawLLMOutput: "raw",
		Stakeholder: "Road User", CreatedAt: time.Now().UTC(),
	})

	out, err := p.RunImpactRatings(context.Background(), "")
	require.NoError(t, err, "a parse failure skips the record, the stage continues")
	assert.Empty(t, out)
}

func TestRunThreatScenarios(t *testing.T) {
	backend := &fakeLLM{responses: []string{"```json\n" + `{
	  "cyber_property": "Integrity",
	  "one_sentence": "An attacker injects forged brake commands over the CAN bus.",
	  "attack_vectors": ["Network", "Physical"]
	}` + "\n```"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	seedDamages(t, run, DamageScenario{
		DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "Loss of braking.",
		RawLLMOutput: "raw", Stakeholder: "Road User", CreatedAt: time.Now().UTC(),
	})

	out, err := p.RunThreatScenarios(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "TS-0001", out[0].ThreatID)
	assert.Equal(t, "DS-0001", out[0].DamageID)
	assert.Equal(t, []string{"Network", "Physical"}, out[0].AttackVectors)
	assert.Contains(t, backend.prompts[0], "damage_scenario = Loss of braking.")
}

func TestRunThreatScenariosMarkerFallback(t *testing.T) {
	backend := &fakeLLM{responses: []string{
		"I could not produce JSON.\n!!!!\nSpoofed wheel speed readings mislead the brake ECU.\n!!!!",
	}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	seedDamages(t, run, DamageScenario{
		DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Availability", OneSentence: "x", RawLLMOutput: "raw",
		Stakeholder: "Road User", CreatedAt: time.Now().UTC(),
	})

	out, err := p.RunThreatScenarios(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "Spoofed wheel speed readings mislead the brake ECU.", out[0].OneSentence)
	assert.Equal(t, "Availability", out[0].CyberProperty, "falls back to the damage scenario's property")
	assert.Empty(t, out[0].AttackVectors)
}

func TestRunThreatScenariosSkipsOrphanedDamage(t *testing.T) {
	backend := &fakeLLM{responses: []string{"!!!! x !!!!"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	seedDamages(t, run, DamageScenario{
		DamageID: "DS-0001", AssetID: "GONE-ASSET", AssetTag: "A-0009",
		CyberProperty: "Integrity", OneSentence: "x", RawLLMOutput: "raw",
		Stakeholder: "Road User", CreatedAt: time.Now().UTC(),
	})

	out, err := p.RunThreatScenarios(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, backend.prompts, "no call is made for a damage scenario without its asset")
}

func TestRunAttackPaths(t *testing.T) {
	backend := &fakeLLM{responses: []string{"```json\n" + `{
	  "attack_paths": [
	    {
	      "vulnerabilities": [
	        {"backing": "NVD", "cve_id": "CVE-2021-44228", "cwe_id": "CWE-502",
	         "component": "telematics", "weakness_family": "deserialization"}
	      ],
	      "entry_vector": "Network",
	      "backing": "NVD-supported",
	      "cve_id": "CVE-2021-44228",
	      "cwe_id": "CWE-502",
	      "attck_techniques": ["T1190"],
	      "capec_ids": ["CAPEC-123"],
	      "atm_ids": ["ATM-007"],
	      "steps": ["Step 1", "Step 2"]
	    },
	    {
	      "vulnerabilities": [],
	      "entry_vector": "Physical",
	      "steps": ["Step 1"]
	    }
	  ]
	}` + "\n```"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d",
			SoftwareStack: []SoftwareComponent{{Name: "AUTOSAR OS"}}})
	require.NoError(t, ThreatRepo(run).Append(ThreatScenario{
		ThreatID: "TS-0001", DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "CAN injection", AttackVectors: []string{"Network"},
		RawLLMOutput: "raw",
	}))

	out, err := p.RunAttackPaths(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, out, 2, "one response can carry several paths")
	assert.Equal(t, "AP-0001", out[0].PathID)
	assert.Equal(t, "AP-0002", out[1].PathID)
	assert.Equal(t, "NVD-supported", out[0].Backing)
	assert.Equal(t, "potential_generated", out[1].Backing, "backing defaults when absent")
	require.Len(t, out[0].Vulnerabilities, 1)
	assert.Equal(t, "CVE-2021-44228", out[0].Vulnerabilities[0].CVEID)
}

func TestRunAttackFeasibility(t *testing.T) {
	backend := &fakeLLM{responses: []string{"```json\n" + `{
	  "threatId": "TS-0001",
	  "feasibility": {
	    "elapsedTime": {"score": 4, "rationale": "weeks"},
	    "specialistExpertise": {"score": 3, "rationale": "expert"},
	    "knowledgeOfItem": {"score": 3, "rationale": "restricted"},
	    "windowOfOpportunity": {"score": 1, "rationale": "unlimited remote"},
	    "equipmentRequired": {"score": 4, "rationale": "bespoke"},
	    "totalScore": 15,
	    "attackPotential": "Moderate",
	    "attackFeasibility": "medium"
	  }
	}` + "\n```"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	require.NoError(t, AttackPathRepo(run).Append(AttackPath{
		PathID: "AP-0001", ThreatID: "TS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		DamageID: "DS-0001", CVEID: "CVE-2021-44228", CWEID: "CWE-502",
		Vulnerabilities: []VulnerabilityRef{
			{Backing: "NVD", CVEID: "CVE-2020-0022", Component: "bt", WeaknessFamily: "memory_corruption"},
		},
		EntryVector: "Network", Backing: "NVD-supported", RawLLMOutput: "raw",
	}))

	out, err := p.RunAttackFeasibility(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, out, 1)
	f := out[0]
	assert.NotEmpty(t, f.FeasibilityID, "feasibility ids are opaque uuids")
	assert.Equal(t, "TS-0001", f.ThreatID)
	assert.Equal(t, 4, f.ElapsedTime)
	assert.Equal(t, 15, f.TotalScore)
	assert.Equal(t, "Medium", f.AttackFeasibility, "level is normalized")
	assert.Equal(t, []string{"CVE-2021-44228", "CVE-2020-0022"}, f.MappedCVE,
		"path and vulnerability CVEs roll up in order")
	assert.Equal(t, []string{"CWE-502"}, f.CWE)
}

func TestRunAttackFeasibilitySkipsMissingScores(t *testing.T) {
	backend := &fakeLLM{responses: []string{`{"feasibility": {"elapsedTime": {"score": 4}}}`}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	require.NoError(t, AttackPathRepo(run).Append(AttackPath{
		PathID: "AP-0001", ThreatID: "TS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		DamageID: "DS-0001", EntryVector: "Network", Backing: "potential_generated", RawLLMOutput: "raw",
	}))

	out, err := p.RunAttackFeasibility(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, out, "incomplete factor scores skip the path")
}

func TestRunRiskValues(t *testing.T) {
	backend := &fakeLLM{responses: []string{"```json\n" + `{
	  "threatId": "TS-0001",
	  "stakeholder": "Road User",
	  "impactCategory": "severe",
	  "attackPotential": "Moderate",
	  "riskValue": 4,
	  "justification": "Severe safety impact, medium attack potential."
	}` + "\n```"}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	require.NoError(t, ThreatRepo(run).Append(ThreatScenario{
		ThreatID: "TS-0001", DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "CAN injection", RawLLMOutput: "raw",
	}))
	require.NoError(t, ImpactRepo(run).Append(ImpactRating{
		ImpactID: "IM-0001", DamageID: "DS-0001", AssetTag: "A-0001", Stakeholder: "Both",
		RoadUserSFOP: map[string]int{"safety": 3}, OEMRFOIP: map[string]int{"reputation": 2},
		RawLLMOutput: "raw",
	}))
	require.NoError(t, FeasibilityRepo(run).Append(AttackFeasibility{
		FeasibilityID: "feas-1", ThreatID: "TS-0001", PathID: "AP-0001", AssetTag: "A-0001",
		ElapsedTime: 4, SpecialistExpertise: 3, KnowledgeOfItem: 3, WindowOfOpportunity: 1,
		EquipmentRequired: 4, TotalScore: 15, AttackPotential: "Moderate",
		AttackFeasibility: "Medium", RawLLMOutput: "raw",
	}))

	out, err := p.RunRiskValues(context.Background(), "", "Road User")
	require.NoError(t, err)

	require.Len(t, out, 1)
	rv := out[0]
	assert.NotEmpty(t, rv.RiskID)
	assert.Equal(t, "TS-0001", rv.ThreatID)
	assert.Equal(t, "severe", rv.ImpactCategory)
	assert.Equal(t, "medium", rv.AttackPotential, "labels are normalized onto the matrix scale")
	assert.Equal(t, 4, rv.Value)

	assert.Contains(t, backend.prompts[0], `attack_potential = "medium"`,
		"feasibility level feeds the prompt as normalized attack potential")
	assert.Contains(t, backend.prompts[0], `{"safety":3}`, "road user axis is selected")
}

func TestRunRiskValuesNoFeasibility(t *testing.T) {
	backend := &fakeLLM{responses: []string{`{"impactCategory":"severe","riskValue":4}`}}
	p, mgr := newTestPipeline(t, backend)
	run := seedAssets(t, mgr,
		Asset{AssetTag: "A-0001", AssetID: "ECU-BRAKE-01", ItemID: "i1", Type: "ECU", Description: "d"})
	require.NoError(t, ThreatRepo(run).Append(ThreatScenario{
		ThreatID: "TS-0001", DamageID: "DS-0001", AssetID: "ECU-BRAKE-01", AssetTag: "A-0001",
		CyberProperty: "Integrity", OneSentence: "x", RawLLMOutput: "raw",
	}))
	require.NoError(t, ImpactRepo(run).Append(ImpactRating{
		ImpactID: "IM-0001", DamageID: "DS-0001", AssetTag: "A-0001", Stakeholder: "Both",
		RoadUserSFOP: map[string]int{"safety": 3}, RawLLMOutput: "raw",
	}))
	require.NoError(t, FeasibilityRepo(run).EnsureSchema())

	out, err := p.RunRiskValues(context.Background(), "", "Road User")
	require.NoError(t, err)
	assert.Empty(t, out, "threats without feasibility records are skipped")
}
