// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// UploadedModelFile is where an uploaded SysML model lands inside the
// base output directory, shared by all runs.
const UploadedModelFile = "uploaded_sysml.json"

// RunStageRequest is the body of POST /v1/run-stage/:id. All fields are
// optional at the transport level; stage 2 rejects a missing assetId.
type RunStageRequest struct {
	AssetID     string `json:"assetId"`
	Stakeholder string `json:"stakeholder"`
	ForceNewRun bool   `json:"forceNewRun"`
}

// handleRunStage dispatches to the seven stage runners. An upstream CSV
// that was never generated maps to 409 so clients can distinguish
// "run the earlier stage first" from a real failure.
func (s *Service) handleRunStage() gin.HandlerFunc {
	return func(c *gin.Context) {
		stageID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stage id must be an integer"})
			return
		}

		var req RunStageRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Stakeholder == "" {
			req.Stakeholder = "Road User"
		}

		ctx := c.Request.Context()
		var records any
		var count int

		switch stageID {
		case 1:
			modelPath := filepath.Join(s.pipe.Runs().BaseDir(), UploadedModelFile)
			out, runErr := s.pipe.RunAssetExtraction(ctx, modelPath, req.ForceNewRun)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 2:
			if req.AssetID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "assetId is required for stage 2"})
				return
			}
			out, runErr := s.pipe.RunDamageScenarios(ctx, req.AssetID, req.Stakeholder)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 3:
			out, runErr := s.pipe.RunImpactRatings(ctx, req.AssetID)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 4:
			out, runErr := s.pipe.RunThreatScenarios(ctx, req.AssetID)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 5:
			out, runErr := s.pipe.RunAttackPaths(ctx, req.AssetID)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 6:
			out, runErr := s.pipe.RunAttackFeasibility(ctx, req.AssetID)
			records, count, err = listOrEmpty(out), len(out), runErr
		case 7:
			out, runErr := s.pipe.RunRiskValues(ctx, req.AssetID, req.Stakeholder)
			records, count, err = listOrEmpty(out), len(out), runErr
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stage id"})
			return
		}

		if err != nil {
			if errors.Is(err, store.ErrRepositoryNotFound) {
				c.JSON(http.StatusConflict, gin.H{
					"error":  "upstream stage has not run",
					"detail": err.Error(),
				})
				return
			}
			slog.Error("Stage failed", "stage", stageID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"stage":   stageID,
			"count":   count,
			"records": records,
		})
	}
}

// ModifyStageRequest re-runs one record's generation with reviewer
// feedback folded into the structured input.
type ModifyStageRequest struct {
	PromptInput string `json:"prompt_input"`
	Feedback    string `json:"feedback"`
	FileContent string `json:"file_content"`
}

var stagePrompts = map[int]string{
	1: llm.PromptAssetRegister,
	2: llm.PromptDamageScenario,
	3: llm.PromptImpactRating,
	4: llm.PromptThreatScenario,
	5: llm.PromptVulnAttackPath,
	6: llm.PromptAttackFeasibility,
	7: llm.PromptRiskValues,
}

func (s *Service) handleModifyStage() gin.HandlerFunc {
	return func(c *gin.Context) {
		stageID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stage id must be an integer"})
			return
		}
		promptFile, ok := stagePrompts[stageID]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stage id"})
			return
		}

		var req ModifyStageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Feedback == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "feedback is required"})
			return
		}

		systemPrompt, err := llm.LoadPrompt(s.cfg.Prompts.Dir, promptFile)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		userPrompt := llm.InjectUserFeedback(req.PromptInput, req.Feedback, req.FileContent)
		raw, err := s.llm.Generate(c.Request.Context(), systemPrompt, userPrompt, llm.GenerationParams{})
		if err != nil {
			slog.Error("Modify generation failed", "stage", stageID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		parsed, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr != nil {
			slog.Warn("Modify output is not parseable JSON", "stage", stageID, "error", parseErr)
			parsed = nil
		}
		c.JSON(http.StatusOK, gin.H{
			"raw_output": raw,
			"parsed":     parsed,
		})
	}
}

// listOrEmpty keeps empty stage results rendering as [] instead of null.
func listOrEmpty[T any](xs []T) any {
	if xs == nil {
		return []T{}
	}
	return xs
}
