// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"fmt"
	"strings"
)

// Source names used by ingestion and the stage context builders.
const (
	SourceStandard = "STANDARD"
	SourceNVD      = "NVD"
	SourceCWE      = "CWE"
	SourceCAPEC    = "CAPEC"
	SourceATTCK    = "ATTCK"
	SourceATM      = "ATM"
)

// AssetDefinitionContext retrieves asset definitions and examples from
// the standards for the asset extraction stage.
func AssetDefinitionContext(ctx context.Context, s Searcher, assetType string) (string, error) {
	query := fmt.Sprintf(
		"ISO 21434 asset definitions and examples for %s in brake-by-wire, ABS, ESC systems",
		assetType)
	docs, err := s.Search(ctx, query, 6, map[string]string{"source": SourceStandard})
	if err != nil {
		return "", err
	}
	return joinChunks(docs, "# "), nil
}

// DamageContext retrieves damage scenario guidance from the standards
// for the given asset type.
func DamageContext(ctx context.Context, s Searcher, assetType string) (string, error) {
	query := fmt.Sprintf(
		"Damage scenarios, impact and consequences for %s in ABS, ESC, and brake-by-wire systems, ISO 21434, UNECE R155",
		assetType)
	docs, err := s.Search(ctx, query, 8, map[string]string{"source": SourceStandard})
	if err != nil {
		return "", err
	}
	return joinChunks(docs, "# "), nil
}

// ThreatContext retrieves STRIDE-style threat patterns for the given
// asset type.
func ThreatContext(ctx context.Context, s Searcher, assetType string) (string, error) {
	query := fmt.Sprintf(
		"STRIDE-based threat scenarios for %s in automotive brake-by-wire and ABS/ESC architectures",
		assetType)
	docs, err := s.Search(ctx, query, 8, map[string]string{"source": SourceStandard})
	if err != nil {
		return "", err
	}
	return joinChunks(docs, "# "), nil
}

// VulnContext retrieves vulnerability material across all technical
// catalogs for the attack path stage. The sections keep their catalog
// headings so the model can cite backing honestly.
func VulnContext(ctx context.Context, s Searcher, assetType string, software, attackVectors []string) (string, error) {
	swNames := strings.Join(software, ", ")
	if swNames == "" {
		swNames = "embedded software"
	}
	vecStr := strings.Join(attackVectors, ", ")
	if vecStr == "" {
		vecStr = "Network, Remote, Physical"
	}

	query := fmt.Sprintf(
		"Automotive vulnerabilities and attack patterns affecting %s with software %s using attack vectors %s",
		assetType, swNames, vecStr)

	sections := []struct {
		heading string
		source  string
		limit   int
	}{
		{"# Vulnerabilities (NVD)", SourceNVD, 10},
		{"# Weaknesses (CWE)", SourceCWE, 5},
		{"# Attack Patterns (CAPEC)", SourceCAPEC, 5},
		{"# ATT&CK Techniques", SourceATTCK, 5},
		{"# Automotive Threat Matrix", SourceATM, 5},
	}

	var b strings.Builder
	for i, section := range sections {
		docs, err := s.Search(ctx, query, section.limit, map[string]string{"source": section.source})
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(section.heading)
		b.WriteString("\n\n")
		b.WriteString(joinChunks(docs, "## "))
	}
	return b.String(), nil
}

// FeasibilityContext retrieves exploitation detail for the mapped CVEs
// plus related ATT&CK techniques.
func FeasibilityContext(ctx context.Context, s Searcher, mappedCVEs []string) (string, error) {
	cveList := strings.Join(mappedCVEs, ", ")
	if cveList == "" {
		cveList = "N/A"
	}
	query := fmt.Sprintf("Attack complexity, requirements, and exploitation details for CVEs: %s", cveList)

	cveDocs, err := s.Search(ctx, query, 10, map[string]string{"source": SourceNVD})
	if err != nil {
		return "", err
	}
	attckDocs, err := s.Search(ctx, query, 8, map[string]string{"source": SourceATTCK})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# NVD Exploitation Details\n\n")
	b.WriteString(joinChunks(cveDocs, "## "))
	b.WriteString("\n# ATT&CK Tactics and Techniques\n\n")
	b.WriteString(joinChunks(attckDocs, "## "))
	return b.String(), nil
}

// RiskContext retrieves risk determination guidance from the standards,
// shared by the impact rating and risk value stages.
func RiskContext(ctx context.Context, s Searcher) (string, error) {
	query := "ISO 21434 risk determination, impact category definition, SFOP and RFOIP " +
		"interpretation, and UNECE R155 risk-based CSMS requirements for braking systems"
	docs, err := s.Search(ctx, query, 6, map[string]string{"source": SourceStandard})
	if err != nil {
		return "", err
	}
	return joinChunks(docs, "# "), nil
}

// joinChunks renders documents as markdown sections for prompt context.
func joinChunks(docs []Document, headingPrefix string) string {
	chunks := make([]string, 0, len(docs))
	for _, d := range docs {
		chunks = append(chunks, fmt.Sprintf("%s%s\n%s\n", headingPrefix, d.Title, d.Body))
	}
	return strings.Join(chunks, "\n")
}
