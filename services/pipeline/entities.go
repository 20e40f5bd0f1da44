// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the seven-stage TARA analysis chain over
// the run-scoped CSV record store.
//
// Each stage reads the evidence of the stage before it, drives a
// generation backend with retrieval-augmented prompts, and appends its
// own records. Stages are connected only through the CSV files; any
// stage can be re-run against the current run directory.
//
//	Stage 1: asset extraction from a SysML model  -> assets.csv
//	Stage 2: damage scenarios                     -> damage_scenarios.csv
//	Stage 3: impact ratings                       -> impact_rating.csv
//	Stage 4: threat scenarios                     -> threat_scenarios.csv
//	Stage 5: vulnerabilities and attack paths     -> attack_paths.csv
//	Stage 6: attack feasibility                   -> attack_feasibilities.csv
//	Stage 7: risk values                          -> risk_values.csv
package pipeline

import "time"

// CyberProperties is the extended CIA property set used across stages.
// Assets without explicit properties get all six.
var CyberProperties = []string{
	"Confidentiality",
	"Integrity",
	"Availability",
	"Non-Repudiation",
	"Authenticity",
	"Authorization",
}

// AssetTypes are the admissible values for Asset.Type. Extraction skips
// entries outside this set.
var AssetTypes = []string{
	"ECU",
	"Sensor",
	"Network",
	"ExternalActor",
	"Signal",
	"Power",
	"Component",
}

// Interface is one connection surface of an asset (CAN, LIN, Ethernet,
// diagnostics).
type Interface struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"` // in, out, inout
	Exposure  string `json:"exposure,omitempty"`  // e.g. vehicle-internal, external-remote
}

// SoftwareComponent is one element of an asset's software stack.
type SoftwareComponent struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Category string `json:"category,omitempty"` // OS, Middleware, Application, Bootloader, Firmware
}

// Asset is a system element extracted from the SysML model in stage 1.
// AssetTag is the minted sequential tag (A-0001...) that downstream
// stages use for linking; AssetID is the identifier the model itself
// carries.
type Asset struct {
	AssetTag        string              `json:"assetTag"`
	AssetID         string              `json:"assetId"`
	ItemID          string              `json:"itemId"`
	Type            string              `json:"type"`
	Description     string              `json:"description"`
	Location        string              `json:"location,omitempty"`
	CyberProperties []string            `json:"cyberProperties,omitempty"`
	Interfaces      []Interface         `json:"interfaces,omitempty"`
	SoftwareStack   []SoftwareComponent `json:"softwareStack,omitempty"`
}

// DamageScenario is one stage 2 record: the harm that follows from the
// loss of one cyber property of one asset.
type DamageScenario struct {
	DamageID      string
	AssetID       string
	AssetTag      string
	CyberProperty string
	OneSentence   string
	RawLLMOutput  string
	Stakeholder   string // Road User, OEM, Both
	CreatedAt     time.Time
}

// ImpactRating scores a damage scenario on the SFOP axes for road users
// and the RFOIP axes for the OEM.
type ImpactRating struct {
	ImpactID     string
	DamageID     string
	AssetTag     string
	Stakeholder  string
	RoadUserSFOP map[string]int // safety, financial, operational, privacy: 0-3
	OEMRFOIP     map[string]int // reputation, financial, operational, ip: 0-3
	RawLLMOutput string
}

// ThreatScenario is one stage 4 record describing how the damage could
// be caused.
type ThreatScenario struct {
	ThreatID      string
	DamageID      string
	AssetID       string
	AssetTag      string
	CyberProperty string
	OneSentence   string
	AttackVectors []string
	RawLLMOutput  string
}

// VulnerabilityRef is one vulnerability cited inside an attack path,
// either NVD-backed or generated as a potential weakness.
type VulnerabilityRef struct {
	Backing        string           `json:"backing"` // NVD or potential_generated
	CVEID          string           `json:"cve_id,omitempty"`
	CWEID          string           `json:"cwe_id,omitempty"`
	Component      string           `json:"component"`
	CPECandidates  []map[string]any `json:"cpe_candidates,omitempty"`
	WeaknessFamily string           `json:"weakness_family"`
	AttackVectors  []string         `json:"attack_vectors,omitempty"`
}

// AttackPath is one stage 5 record: ordered attacker steps realizing a
// threat scenario, with catalog backing.
type AttackPath struct {
	PathID          string
	ThreatID        string
	AssetID         string
	AssetTag        string
	DamageID        string
	Vulnerabilities []VulnerabilityRef
	EntryVector     string
	Backing         string // NVD-supported or potential_generated
	CVEID           string
	CWEID           string
	ATTCKTechniques []string
	CAPECIDs        []string
	ATMIDs          []string
	Steps           []string
	RawLLMOutput    string
}

// AttackFeasibility is one stage 6 record: the five ISO 21434 attack
// potential factors for one attack path, plus the derived levels.
type AttackFeasibility struct {
	FeasibilityID       string
	ThreatID            string
	PathID              string
	AssetTag            string
	MappedCVE           []string
	CWE                 []string
	ElapsedTime         int
	SpecialistExpertise int
	KnowledgeOfItem     int
	WindowOfOpportunity int
	EquipmentRequired   int
	TotalScore          int
	AttackPotential     string // Basic .. Beyond high
	AttackFeasibility   string // High, Medium, Low, Very Low
	RawLLMOutput        string
}

// RiskValue is one stage 7 record: the risk matrix outcome for one
// threat and stakeholder.
type RiskValue struct {
	RiskID          string
	ThreatID        string
	AssetTag        string
	Stakeholder     string // Road User or OEM
	ImpactCategory  string // severe, serious, moderate, negligible
	AttackPotential string // very low, low, medium, high
	Value           int    // 1-5 from the risk matrix
	Justification   string
}
