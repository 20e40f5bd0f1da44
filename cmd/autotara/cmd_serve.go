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
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AutoTARA/pkg/config"
	"github.com/AleutianAI/AutoTARA/pkg/logging"
	"github.com/AleutianAI/AutoTARA/services/orchestrator"
)

var serveJSONLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the AutoTARA orchestrator HTTP service",
	RunE:  runServeCommand,
}

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", true,
		"emit stderr logs as JSON")
	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Service: "orchestrator",
		JSON:    serveJSONLogs,
	})
	defer logger.Close()
	logger.Install()

	cleanup, err := orchestrator.InitTracer(cmd.Context())
	if err != nil {
		return fmt.Errorf("setting up the OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	svc, err := orchestrator.New(config.Global, logger)
	if err != nil {
		return err
	}

	slog.Info("AutoTARA orchestrator configured",
		"output_dir", config.Global.Output.Dir,
		"backend", config.Global.ModelBackend.Type)
	return svc.Run()
}
