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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searchCall records one Search invocation on the fake.
type searchCall struct {
	query   string
	limit   int
	filters map[string]string
}

type fakeSearcher struct {
	calls []searchCall
	docs  map[string][]Document // keyed by source filter, "" for none
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int, filters map[string]string) ([]Document, error) {
	f.calls = append(f.calls, searchCall{query: query, limit: limit, filters: filters})
	if f.err != nil {
		return nil, f.err
	}
	source := ""
	if filters != nil {
		source = filters["source"]
	}
	return f.docs[source], nil
}

func standardDocs() map[string][]Document {
	return map[string][]Document{
		SourceStandard: {
			{ID: "iso-1", Source: SourceStandard, Title: "Asset identification", Body: "Identify items and assets."},
		},
	}
}

func TestAssetDefinitionContext(t *testing.T) {
	fake := &fakeSearcher{docs: standardDocs()}

	got, err := AssetDefinitionContext(context.Background(), fake, "ECU")
	require.NoError(t, err)

	assert.Contains(t, got, "Asset identification")
	assert.Contains(t, got, "Identify items and assets.")

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, 6, call.limit)
	assert.Equal(t, SourceStandard, call.filters["source"])
	assert.Contains(t, call.query, "ECU")
}

func TestDamageAndThreatContextLimits(t *testing.T) {
	fake := &fakeSearcher{docs: standardDocs()}

	_, err := DamageContext(context.Background(), fake, "Telematics Unit")
	require.NoError(t, err)
	_, err = ThreatContext(context.Background(), fake, "Telematics Unit")
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, 8, fake.calls[0].limit)
	assert.Equal(t, 8, fake.calls[1].limit)
	for _, call := range fake.calls {
		assert.Equal(t, SourceStandard, call.filters["source"])
		assert.Contains(t, call.query, "Telematics Unit")
	}
}

func TestVulnContextQueriesEveryCatalog(t *testing.T) {
	fake := &fakeSearcher{docs: map[string][]Document{
		SourceNVD:   {{ID: "CVE-2021-0001", Title: "CVE CVE-2021-0001", Body: "Buffer overflow."}},
		SourceCWE:   {{ID: "787", Title: "CWE 787: Out-of-bounds Write", Body: "Writes past the end."}},
		SourceCAPEC: {{ID: "123", Title: "CAPEC 123: Buffer Manipulation", Body: "Manipulate buffers."}},
		SourceATTCK: {{ID: "T1190", Title: "ATT&CK T1190: Exploit Public-Facing Application", Body: "Exploit."}},
		SourceATM:   {{ID: "ATM-1", Title: "ATM ATM-1: Network", Body: "Automotive threat."}},
	}}

	got, err := VulnContext(context.Background(), fake, "Gateway ECU", []string{"AUTOSAR stack 4.4"}, []string{"CAN", "Cellular"})
	require.NoError(t, err)

	require.Len(t, fake.calls, 5)

	bySource := map[string]searchCall{}
	for _, call := range fake.calls {
		bySource[call.filters["source"]] = call
	}
	assert.Equal(t, 10, bySource[SourceNVD].limit)
	assert.Equal(t, 5, bySource[SourceCWE].limit)
	assert.Equal(t, 5, bySource[SourceCAPEC].limit)
	assert.Equal(t, 5, bySource[SourceATTCK].limit)
	assert.Equal(t, 5, bySource[SourceATM].limit)

	assert.Contains(t, bySource[SourceNVD].query, "AUTOSAR stack 4.4")
	assert.Contains(t, bySource[SourceATTCK].query, "CAN, Cellular")

	for _, heading := range []string{
		"# Vulnerabilities (NVD)",
		"# Weaknesses (CWE)",
		"# Attack Patterns (CAPEC)",
		"# ATT&CK Techniques",
		"# Automotive Threat Matrix",
	} {
		assert.Contains(t, got, heading)
	}
	assert.Contains(t, got, "Buffer overflow.")
	assert.Contains(t, got, "Automotive threat.")
}

func TestVulnContextDefaults(t *testing.T) {
	fake := &fakeSearcher{docs: map[string][]Document{}}

	_, err := VulnContext(context.Background(), fake, "ECU", nil, nil)
	require.NoError(t, err)

	require.Len(t, fake.calls, 5)
	joined := ""
	for _, call := range fake.calls {
		joined += call.query + "\n"
	}
	assert.Contains(t, joined, "embedded software")
	assert.Contains(t, joined, "Network, Remote, Physical")
}

func TestFeasibilityContext(t *testing.T) {
	fake := &fakeSearcher{docs: map[string][]Document{
		SourceNVD:   {{ID: "CVE-2022-1234", Title: "CVE CVE-2022-1234", Body: "Remote code execution."}},
		SourceATTCK: {{ID: "T1059", Title: "ATT&CK T1059: Command Interpreter", Body: "Run commands."}},
	}}

	got, err := FeasibilityContext(context.Background(), fake, []string{"CVE-2022-1234"})
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, 10, fake.calls[0].limit)
	assert.Equal(t, 8, fake.calls[1].limit)
	assert.Contains(t, fake.calls[0].query, "CVE-2022-1234")
	assert.Contains(t, got, "Remote code execution.")
	assert.Contains(t, got, "Run commands.")
}

func TestFeasibilityContextWithoutCVEs(t *testing.T) {
	fake := &fakeSearcher{docs: map[string][]Document{}}

	_, err := FeasibilityContext(context.Background(), fake, nil)
	require.NoError(t, err)

	require.NotEmpty(t, fake.calls)
	assert.True(t, strings.Contains(fake.calls[0].query, "N/A"),
		"query without CVEs should carry the N/A placeholder: %q", fake.calls[0].query)
}

func TestContextBuildersPropagateSearchErrors(t *testing.T) {
	wantErr := errors.New("weaviate unreachable")
	fake := &fakeSearcher{err: wantErr}

	_, err := AssetDefinitionContext(context.Background(), fake, "ECU")
	assert.ErrorIs(t, err, wantErr)

	_, err = VulnContext(context.Background(), fake, "ECU", nil, nil)
	assert.ErrorIs(t, err, wantErr)

	_, err = RiskContext(context.Background(), fake)
	assert.ErrorIs(t, err, wantErr)
}
