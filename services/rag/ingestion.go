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
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Writer is the ingestion-side store dependency.
type Writer interface {
	AddDocuments(ctx context.Context, docs []Document) (int, error)
}

// IngestionPaths names the local catalog dumps to ingest. Empty paths
// are skipped, and a path that does not exist is skipped with a warning:
// operators rarely have every catalog locally.
type IngestionPaths struct {
	NVDDump      string // NVD CVE feed, JSON or JSON.GZ
	CWECatalog   string // CWE export, JSON
	CAPECCatalog string // CAPEC export, JSON
	ATTCKBundle  string // ATT&CK Enterprise STIX bundle, JSON
	ATMCatalog   string // Automotive Threat Matrix mapping, JSON
	StandardsDir string // directory of .md/.txt standards extracts
}

// IngestAll loads every configured catalog and imports the documents,
// one catalog per goroutine. The first loader or import error cancels
// the rest.
func IngestAll(ctx context.Context, w Writer, paths IngestionPaths) error {
	type catalog struct {
		name string
		load func() ([]Document, error)
	}

	catalogs := []catalog{
		{"nvd", func() ([]Document, error) { return LoadNVDDump(paths.NVDDump) }},
		{"cwe", func() ([]Document, error) { return LoadCWECatalog(paths.CWECatalog) }},
		{"capec", func() ([]Document, error) { return LoadCAPECCatalog(paths.CAPECCatalog) }},
		{"attck", func() ([]Document, error) { return LoadATTCKBundle(paths.ATTCKBundle) }},
		{"atm", func() ([]Document, error) { return LoadATMCatalog(paths.ATMCatalog) }},
		{"standards", func() ([]Document, error) { return LoadStandardsDir(paths.StandardsDir) }},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range catalogs {
		g.Go(func() error {
			docs, err := c.load()
			if err != nil {
				return fmt.Errorf("loading %s catalog: %w", c.name, err)
			}
			if len(docs) == 0 {
				return nil
			}
			n, err := w.AddDocuments(ctx, docs)
			if err != nil {
				return fmt.Errorf("ingesting %s catalog: %w", c.name, err)
			}
			slog.Info("Ingested catalog", "catalog", c.name, "documents", n)
			return nil
		})
	}
	return g.Wait()
}

// LoadNVDDump reads an NVD CVE feed (JSON or JSON.GZ) into documents.
// Malformed entries are skipped, never fatal.
func LoadNVDDump(path string) ([]Document, error) {
	data, ok, err := readOptionalFile(path)
	if !ok || err != nil {
		return nil, err
	}

	var feed struct {
		CVEItems []struct {
			CVE struct {
				CVEDataMeta struct {
					ID string `json:"ID"`
				} `json:"CVE_data_meta"`
				Description struct {
					DescriptionData []struct {
						Value string `json:"value"`
					} `json:"description_data"`
				} `json:"description"`
			} `json:"cve"`
		} `json:"CVE_Items"`
	}
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parsing NVD feed %s: %w", path, err)
	}

	docs := make([]Document, 0, len(feed.CVEItems))
	for _, item := range feed.CVEItems {
		cveID := item.CVE.CVEDataMeta.ID
		if cveID == "" {
			continue
		}
		description := ""
		if len(item.CVE.Description.DescriptionData) > 0 {
			description = item.CVE.Description.DescriptionData[0].Value
		}
		docs = append(docs, Document{
			ID:     cveID,
			Source: SourceNVD,
			Type:   "CVE",
			Title:  "CVE " + cveID,
			Body:   description,
			Metadata: map[string]any{
				"cve_id":      cveID,
				"source_feed": filepath.Base(path),
			},
		})
	}
	return docs, nil
}

// LoadCWECatalog reads a CWE JSON export into documents.
func LoadCWECatalog(path string) ([]Document, error) {
	data, ok, err := readOptionalFile(path)
	if !ok || err != nil {
		return nil, err
	}

	var catalog struct {
		Weaknesses []struct {
			ID          string `json:"ID"`
			Name        string `json:"Name"`
			Description string `json:"Description"`
		} `json:"Weaknesses"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing CWE catalog %s: %w", path, err)
	}

	docs := make([]Document, 0, len(catalog.Weaknesses))
	for _, w := range catalog.Weaknesses {
		if w.ID == "" {
			continue
		}
		docs = append(docs, Document{
			ID:       w.ID,
			Source:   SourceCWE,
			Type:     "CWE",
			Title:    fmt.Sprintf("CWE %s: %s", w.ID, w.Name),
			Body:     w.Description,
			Metadata: map[string]any{"cwe_id": w.ID},
		})
	}
	return docs, nil
}

// LoadCAPECCatalog reads a CAPEC JSON export into documents.
func LoadCAPECCatalog(path string) ([]Document, error) {
	data, ok, err := readOptionalFile(path)
	if !ok || err != nil {
		return nil, err
	}

	var catalog struct {
		AttackPatterns []struct {
			ID          string `json:"ID"`
			Name        string `json:"Name"`
			Description string `json:"Description"`
		} `json:"Attack_Patterns"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing CAPEC catalog %s: %w", path, err)
	}

	docs := make([]Document, 0, len(catalog.AttackPatterns))
	for _, p := range catalog.AttackPatterns {
		if p.ID == "" {
			continue
		}
		docs = append(docs, Document{
			ID:       p.ID,
			Source:   SourceCAPEC,
			Type:     "CAPEC",
			Title:    fmt.Sprintf("CAPEC %s: %s", p.ID, p.Name),
			Body:     p.Description,
			Metadata: map[string]any{"capec_id": p.ID},
		})
	}
	return docs, nil
}

// LoadATTCKBundle reads attack-pattern objects out of a MITRE ATT&CK
// STIX 2.x bundle.
func LoadATTCKBundle(path string) ([]Document, error) {
	data, ok, err := readOptionalFile(path)
	if !ok || err != nil {
		return nil, err
	}

	var bundle struct {
		Objects []struct {
			Type               string `json:"type"`
			Name               string `json:"name"`
			Description        string `json:"description"`
			TacticType         string `json:"x_mitre_tactic_type"`
			ExternalReferences []struct {
				SourceName string `json:"source_name"`
				ExternalID string `json:"external_id"`
			} `json:"external_references"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing ATT&CK bundle %s: %w", path, err)
	}

	var docs []Document
	for _, obj := range bundle.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}
		attackID := ""
		for _, ref := range obj.ExternalReferences {
			if strings.Contains(ref.SourceName, "mitre-attack") {
				attackID = ref.ExternalID
				break
			}
		}
		if attackID == "" {
			continue
		}
		docs = append(docs, Document{
			ID:     attackID,
			Source: SourceATTCK,
			Type:   "TECHNIQUE",
			Title:  fmt.Sprintf("ATT&CK %s: %s", attackID, obj.Name),
			Body:   obj.Description,
			Metadata: map[string]any{
				"attack_id": attackID,
				"tactic":    obj.TacticType,
			},
		})
	}
	return docs, nil
}

// LoadATMCatalog reads an Automotive Threat Matrix mapping file.
func LoadATMCatalog(path string) ([]Document, error) {
	data, ok, err := readOptionalFile(path)
	if !ok || err != nil {
		return nil, err
	}

	var catalog struct {
		Threats []struct {
			ID          string `json:"id"`
			Category    string `json:"category"`
			Description string `json:"description"`
		} `json:"threats"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing ATM catalog %s: %w", path, err)
	}

	docs := make([]Document, 0, len(catalog.Threats))
	for _, t := range catalog.Threats {
		if t.ID == "" {
			continue
		}
		docs = append(docs, Document{
			ID:     t.ID,
			Source: SourceATM,
			Type:   "AUTOMOTIVE_THREAT",
			Title:  fmt.Sprintf("ATM %s: %s", t.ID, t.Category),
			Body:   t.Description,
			Metadata: map[string]any{
				"atm_id":   t.ID,
				"category": t.Category,
			},
		})
	}
	return docs, nil
}

// LoadStandardsDir reads .md and .txt files from a directory, one
// document per file.
func LoadStandardsDir(dir string) ([]Document, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Standards directory not found, skipping", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("reading standards directory %s: %w", dir, err)
	}

	var docs []Document
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".txt")) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("Skipping unreadable standards file", "file", name, "error", err)
			continue
		}
		docs = append(docs, Document{
			ID:       name,
			Source:   SourceStandard,
			Type:     "TEXT",
			Title:    "Standard: " + name,
			Body:     string(content),
			Metadata: map[string]any{"filename": name},
		})
	}
	return docs, nil
}

// readOptionalFile loads a catalog file, transparently gunzipping *.gz.
// A missing or unset path reports ok=false without an error.
func readOptionalFile(path string) ([]byte, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Catalog file not found, skipping", "path", path)
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, false, fmt.Errorf("opening gzip %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}
