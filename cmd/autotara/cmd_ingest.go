// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AutoTARA/pkg/config"
	"github.com/AleutianAI/AutoTARA/pkg/logging"
	"github.com/AleutianAI/AutoTARA/services/rag"
)

var ingestPaths rag.IngestionPaths

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Loads reference catalogs into the Weaviate store",
	Long: `Ingests the security reference corpus the retrieval layer draws
stage context from: the NVD CVE feed, CWE and CAPEC catalogs, the
ATT&CK Enterprise STIX bundle, the Automotive Threat Matrix, and a
directory of standards extracts. Unset sources are skipped.`,
	RunE: runIngestCommand,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPaths.NVDDump, "nvd", "",
		"NVD CVE feed (JSON or JSON.GZ)")
	ingestCmd.Flags().StringVar(&ingestPaths.CWECatalog, "cwe", "",
		"CWE catalog export (JSON)")
	ingestCmd.Flags().StringVar(&ingestPaths.CAPECCatalog, "capec", "",
		"CAPEC catalog export (JSON)")
	ingestCmd.Flags().StringVar(&ingestPaths.ATTCKBundle, "attck", "",
		"ATT&CK Enterprise STIX bundle (JSON)")
	ingestCmd.Flags().StringVar(&ingestPaths.ATMCatalog, "atm", "",
		"Automotive Threat Matrix mapping (JSON)")
	ingestCmd.Flags().StringVar(&ingestPaths.StandardsDir, "standards", "",
		"directory of .md/.txt standards extracts")
	rootCmd.AddCommand(ingestCmd)
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{Service: "ingest"})
	defer logger.Close()
	logger.Install()

	store, err := rag.NewWeaviateStore(config.Global.Retrieval.WeaviateURL)
	if err != nil {
		return fmt.Errorf("connecting reference store: %w", err)
	}

	ctx := cmd.Context()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring reference schema: %w", err)
	}
	if err := rag.IngestAll(ctx, store, ingestPaths); err != nil {
		return err
	}

	slog.Info("Reference ingestion complete",
		"weaviate", config.Global.Retrieval.WeaviateURL)
	return nil
}
