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
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AutoTARA/pkg/config"
	"github.com/AleutianAI/AutoTARA/pkg/logging"
	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/pipeline"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

var (
	runModelPath   string
	runAssetID     string
	runStakeholder string
	runForceNew    bool
)

var runCmd = &cobra.Command{
	Use:   "run <stage 1-7>",
	Short: "Runs one pipeline stage against the active run directory",
	Long: `Runs a single analysis stage. Stage 1 extracts the asset register
from a SysML model; stages 2-7 build on the previous stage's CSV output
in the active run directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runStageCommand,
}

func init() {
	runCmd.Flags().StringVar(&runModelPath, "model", "",
		"SysML model JSON for stage 1 (default: uploaded_sysml.json in the output dir)")
	runCmd.Flags().StringVar(&runAssetID, "asset", "",
		"narrow the stage to one asset (model id or asset tag)")
	runCmd.Flags().StringVar(&runStakeholder, "stakeholder", "Road User",
		"stakeholder perspective for stages 2 and 7")
	runCmd.Flags().BoolVar(&runForceNew, "force-new-run", false,
		"stage 1 only: always create a fresh run directory")
	rootCmd.AddCommand(runCmd)
}

func runStageCommand(cmd *cobra.Command, args []string) error {
	stageID, err := strconv.Atoi(args[0])
	if err != nil || stageID < 1 || stageID > 7 {
		return fmt.Errorf("stage must be an integer between 1 and 7, got %q", args[0])
	}

	logger := logging.New(logging.Config{Service: "pipeline"})
	defer logger.Close()
	logger.Install()

	pipe, err := buildPipeline(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var count int
	switch stageID {
	case 1:
		modelPath := runModelPath
		if modelPath == "" {
			modelPath = filepath.Join(config.Global.Output.Dir, "uploaded_sysml.json")
		}
		out, err := pipe.RunAssetExtraction(ctx, modelPath, runForceNew)
		if err != nil {
			return err
		}
		count = len(out)
	case 2:
		if runAssetID == "" {
			return fmt.Errorf("--asset is required for stage 2")
		}
		out, err := pipe.RunDamageScenarios(ctx, runAssetID, runStakeholder)
		if err != nil {
			return err
		}
		count = len(out)
	case 3:
		out, err := pipe.RunImpactRatings(ctx, runAssetID)
		if err != nil {
			return err
		}
		count = len(out)
	case 4:
		out, err := pipe.RunThreatScenarios(ctx, runAssetID)
		if err != nil {
			return err
		}
		count = len(out)
	case 5:
		out, err := pipe.RunAttackPaths(ctx, runAssetID)
		if err != nil {
			return err
		}
		count = len(out)
	case 6:
		out, err := pipe.RunAttackFeasibility(ctx, runAssetID)
		if err != nil {
			return err
		}
		count = len(out)
	case 7:
		out, err := pipe.RunRiskValues(ctx, runAssetID, runStakeholder)
		if err != nil {
			return err
		}
		count = len(out)
	}

	run, err := pipe.Runs().ActiveRun()
	if err != nil {
		return err
	}
	slog.Info("Stage complete", "stage", stageID, "records", count, "run", run.Name)
	return nil
}

func buildPipeline(logger *logging.Logger) (*pipeline.Pipeline, error) {
	cfg := config.Global

	runs, err := store.NewManager(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	backend, err := llm.New(cfg.ModelBackend)
	if err != nil {
		return nil, err
	}
	search, err := rag.NewWeaviateStore(cfg.Retrieval.WeaviateURL)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Runs:      runs,
		LLM:       backend,
		Search:    search,
		Logger:    logger,
		PromptDir: cfg.Prompts.Dir,
	})
}
