// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag provides the reference-document store and the per-stage
// retrieval context builders for the TARA pipeline. Reference material
// (standards text, NVD CVEs, CWE, CAPEC, ATT&CK, the Automotive Threat
// Matrix) is ingested once and queried by similarity at stage time.
package rag

import "context"

// Document is one reference chunk in the vector store.
type Document struct {
	// ID is the natural identifier of the entry (CVE-2021-0001,
	// CWE-787, a standards filename). Re-ingesting replaces by ID.
	ID string

	// Source names the catalog: STANDARD, NVD, CWE, CAPEC, ATTCK, ATM.
	Source string

	// Type is the entry kind within the source, e.g. CVE, TECHNIQUE.
	Type string

	Title string
	Body  string

	// Metadata carries source-specific extras (cvss score, tactic...).
	Metadata map[string]any
}

// Searcher is the similarity-search dependency the pipeline consumes.
// filters are exact-match constraints on document fields, typically
// {"source": "NVD"}.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, filters map[string]string) ([]Document, error)
}
