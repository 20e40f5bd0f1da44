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
	"regexp"
	"strings"
)

// Normalization maps free-text model output into the closed value sets
// the CSVs carry. Generation backends routinely answer "moderate" where
// the scale says "medium", or "conf" for "Confidentiality"; every stage
// runs its level-typed fields through Normalize before a record is
// built.

var (
	cleanPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	separatorsToSP = strings.NewReplacer("-", " ", "_", " ")
)

// cleanValue lowercases, maps hyphen/underscore separators to spaces,
// and strips everything else, so "Very-Low" and "very_low" both clean
// to "very low".
func cleanValue(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = separatorsToSP.Replace(v)
	return cleanPattern.ReplaceAllString(v, "")
}

// NormalizeFeasibility maps onto High, Medium, Low, Very Low.
func NormalizeFeasibility(value string) string {
	v := cleanValue(value)
	switch {
	case strings.Contains(v, "very low"):
		return "Very Low"
	case strings.Contains(v, "low"):
		return "Low"
	case strings.Contains(v, "medium"), strings.Contains(v, "med"):
		return "Medium"
	case strings.Contains(v, "high"):
		return "High"
	case strings.Contains(v, "moderat"), strings.Contains(v, "mid"):
		return "Medium"
	}
	return "Medium"
}

// NormalizePotential maps onto very low, low, medium, high.
func NormalizePotential(value string) string {
	v := cleanValue(value)
	switch {
	case strings.Contains(v, "very low"):
		return "very low"
	case strings.Contains(v, "low"):
		return "low"
	case strings.Contains(v, "medium"), strings.Contains(v, "med"):
		return "medium"
	case strings.Contains(v, "high"):
		return "high"
	case strings.Contains(v, "moderat"), strings.Contains(v, "mid"):
		return "medium"
	}
	return "medium"
}

// cyberMap keys are substring triggers, checked in declaration order.
var cyberMap = []struct {
	trigger string
	mapped  string
}{
	{"conf", "Confidentiality"},
	{"confidential", "Confidentiality"},
	{"integ", "Integrity"},
	{"avail", "Availability"},
	{"authn", "Authenticity"},
	{"authentic", "Authenticity"},
	{"authz", "Authorization"},
	{"authorization", "Authorization"},
	{"authorisation", "Authorization"},
	{"nonrep", "Non-Repudiation"},
	{"nonrepudiation", "Non-Repudiation"},
	{"non repudiation", "Non-Repudiation"},
	{"non-repudiation", "Non-Repudiation"},
}

// NormalizeCyberProperty maps onto the six extended CIA properties.
func NormalizeCyberProperty(value string) string {
	v := cleanValue(value)
	for _, m := range cyberMap {
		if strings.Contains(v, m.trigger) {
			return m.mapped
		}
	}
	return "Integrity"
}

// NormalizeDamage maps impact/damage levels onto Very Low .. Very High.
func NormalizeDamage(value string) string {
	v := cleanValue(value)
	switch {
	case strings.Contains(v, "very high"):
		return "Very High"
	case strings.Contains(v, "high"):
		return "High"
	case strings.Contains(v, "medium"), strings.Contains(v, "med"):
		return "Medium"
	case strings.Contains(v, "very low"):
		return "Very Low"
	case strings.Contains(v, "low"):
		return "Low"
	case strings.Contains(v, "critical"), strings.Contains(v, "severe"):
		return "High"
	case strings.Contains(v, "moderate"):
		return "Medium"
	}
	return "Medium"
}

// NormalizeLikelihood maps onto very low, low, medium, high.
func NormalizeLikelihood(value string) string {
	v := cleanValue(value)
	switch {
	case strings.Contains(v, "very low"):
		return "very low"
	case strings.Contains(v, "low"):
		return "low"
	case strings.Contains(v, "med"):
		return "medium"
	case strings.Contains(v, "high"):
		return "high"
	case strings.Contains(v, "moderat"):
		return "medium"
	}
	return "medium"
}

// Normalize dispatches on the field name: any field containing
// "feasib", "potential", "cyber"/"property", "damage"/"impact",
// "likelihood", or "risk"+"value" gets the matching scale. Unknown
// fields are returned trimmed.
func Normalize(field, value string) string {
	f := strings.ToLower(field)
	switch {
	case strings.Contains(f, "feasib"):
		return NormalizeFeasibility(value)
	case strings.Contains(f, "potential"):
		return NormalizePotential(value)
	case strings.Contains(f, "cyber"), strings.Contains(f, "property"):
		return NormalizeCyberProperty(value)
	case strings.Contains(f, "damage"), strings.Contains(f, "impact"):
		return NormalizeDamage(value)
	case strings.Contains(f, "likelihood"):
		return NormalizeLikelihood(value)
	case strings.Contains(f, "risk") && strings.Contains(f, "value"):
		return NormalizeLikelihood(value)
	}
	return strings.TrimSpace(value)
}
