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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ReferenceDocClassName is the Weaviate class holding all reference
// material, discriminated by the source property.
const ReferenceDocClassName = "ReferenceDocument"

// BatchSize is the number of documents imported per batch.
const BatchSize = 100

// WeaviateStore implements Searcher over a Weaviate deployment.
//
// Thread Safety: safe for concurrent use; all state lives in Weaviate.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore connects to the Weaviate endpoint, e.g.
// "http://localhost:8080".
func NewWeaviateStore(rawURL string) (*WeaviateStore, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}
	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return &WeaviateStore{client: client}, nil
}

// GetReferenceDocSchema returns the Weaviate schema for the
// ReferenceDocument class. Title and body are vectorized; the
// identifying properties are filterable only.
func GetReferenceDocSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	skipConfig := map[string]interface{}{
		"text2vec-transformers": map[string]interface{}{
			"skip": true,
		},
	}

	return &models.Class{
		Class:       ReferenceDocClassName,
		Description: "Reference material for TARA stages: standards, NVD, CWE, CAPEC, ATT&CK, ATM",
		Vectorizer:  "text2vec-transformers",
		ModuleConfig: map[string]interface{}{
			"text2vec-transformers": map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		Properties: []*models.Property{
			{
				Name:            "docId",
				DataType:        []string{"text"},
				Description:     "Natural identifier, e.g. CVE-2021-0001",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipConfig,
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Catalog: STANDARD, NVD, CWE, CAPEC, ATTCK, ATM",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipConfig,
			},
			{
				Name:            "docType",
				DataType:        []string{"text"},
				Description:     "Entry kind within the source, e.g. CVE, TECHNIQUE",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipConfig,
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Short title shown in prompt context headings",
				Tokenization: "word",
			},
			{
				Name:         "body",
				DataType:     []string{"text"},
				Description:  "Reference text",
				Tokenization: "word",
			},
			{
				Name:         "metadata",
				DataType:     []string{"text"},
				Description:  "Source-specific extras as a JSON object",
				Tokenization: "field",
				ModuleConfig: skipConfig,
			},
		},
	}
}

// EnsureSchema creates the ReferenceDocument class if it doesn't exist.
// Idempotent.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(ReferenceDocClassName).Do(ctx)
	if err == nil {
		slog.Info("ReferenceDocument schema already exists")
		return nil
	}

	slog.Info("Creating ReferenceDocument schema")
	if err := s.client.Schema().ClassCreator().WithClass(GetReferenceDocSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating ReferenceDocument schema: %w", err)
	}
	return nil
}

// AddDocuments batch imports documents. Duplicate IDs within the input
// collapse to the last occurrence so re-ingesting a catalog stays
// idempotent per call.
func (s *WeaviateStore) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	byID := make(map[string]int, len(docs))
	deduped := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if idx, seen := byID[doc.ID]; seen {
			deduped[idx] = doc
			continue
		}
		byID[doc.ID] = len(deduped)
		deduped = append(deduped, doc)
	}

	indexed := 0
	for i := 0; i < len(deduped); i += BatchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}

		end := i + BatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		batch := deduped[i:end]

		objects := make([]*models.Object, len(batch))
		for j, doc := range batch {
			metadata := ""
			if len(doc.Metadata) > 0 {
				if raw, err := json.Marshal(doc.Metadata); err == nil {
					metadata = string(raw)
				}
			}
			objects[j] = &models.Object{
				Class: ReferenceDocClassName,
				Properties: map[string]interface{}{
					"docId":    doc.ID,
					"source":   doc.Source,
					"docType":  doc.Type,
					"title":    doc.Title,
					"body":     doc.Body,
					"metadata": metadata,
				},
			}
		}

		result, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import failed: %w", err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				indexed++
			}
		}

		slog.Info("Indexed reference batch", "count", len(batch), "total_indexed", indexed)
	}

	return indexed, nil
}

// Search implements Searcher with NearText similarity plus exact-match
// filters on the identifying properties.
func (s *WeaviateStore) Search(ctx context.Context, query string, limit int, filterMap map[string]string) ([]Document, error) {
	if limit <= 0 {
		limit = 10
	}

	fields := []graphql.Field{
		{Name: "docId"},
		{Name: "source"},
		{Name: "docType"},
		{Name: "title"},
		{Name: "body"},
		{Name: "metadata"},
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	getBuilder := s.client.GraphQL().Get().
		WithClassName(ReferenceDocClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit)

	if whereFilter := buildWhere(filterMap); whereFilter != nil {
		getBuilder = getBuilder.WithWhere(whereFilter)
	}

	result, err := getBuilder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return parseDocuments(result), nil
}

// DeleteBySource removes every document from one catalog, used before a
// catalog re-ingest.
func (s *WeaviateStore) DeleteBySource(ctx context.Context, source string) error {
	whereFilter := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(source)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ReferenceDocClassName).
		WithWhere(whereFilter).
		Do(ctx)

	if err != nil {
		return fmt.Errorf("deleting by source: %w", err)
	}

	slog.Info("Deleted reference documents by source", "source", source)
	return nil
}

// buildWhere maps simple equality filters onto the class properties.
// The external filter key "type" addresses the docType property.
func buildWhere(filterMap map[string]string) *filters.WhereBuilder {
	if len(filterMap) == 0 {
		return nil
	}

	var operands []*filters.WhereBuilder
	for key, value := range filterMap {
		property := key
		switch key {
		case "id":
			property = "docId"
		case "type":
			property = "docType"
		}
		operands = append(operands, filters.Where().
			WithPath([]string{property}).
			WithOperator(filters.Equal).
			WithValueString(value))
	}

	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

func parseDocuments(result *models.GraphQLResponse) []Document {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Document{}
	}
	objects, ok := data[ReferenceDocClassName].([]interface{})
	if !ok {
		return []Document{}
	}

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		doc := Document{
			ID:     getString(m, "docId"),
			Source: getString(m, "source"),
			Type:   getString(m, "docType"),
			Title:  getString(m, "title"),
			Body:   getString(m, "body"),
		}
		if raw := getString(m, "metadata"); raw != "" {
			var metadata map[string]any
			if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
				doc.Metadata = metadata
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
