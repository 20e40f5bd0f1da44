// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command autotara is the CLI for the AutoTARA analysis stack.
//
//	autotara serve            start the orchestrator HTTP service
//	autotara run <stage>      run one pipeline stage locally
//	autotara ingest           load reference catalogs into Weaviate
//
// Configuration comes from $AUTOTARA_CONFIG (default
// ~/.autotara/autotara.yaml); environment variables override the common
// deployment knobs, see pkg/config.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AutoTARA/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "autotara",
	Short: "A CLI to run ISO/SAE 21434 TARA analyses",
	Long: `AutoTARA runs a seven-stage threat analysis and risk assessment
pipeline over a SysML model, writing each stage's findings as CSV
evidence into an isolated run directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Load()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
