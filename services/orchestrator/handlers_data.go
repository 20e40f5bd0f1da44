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
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AutoTARA/pkg/validation"
	"github.com/AleutianAI/AutoTARA/services/pipeline"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// handleUploadModel stores a SysML model JSON upload where stage 1 will
// pick it up. The file lives in the base output directory, not inside a
// run: the model is an input, runs are evidence.
func (s *Service) handleUploadModel() gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
			return
		}

		dest := filepath.Join(s.pipe.Runs().BaseDir(), UploadedModelFile)
		if err := c.SaveUploadedFile(file, dest); err != nil {
			slog.Error("Saving uploaded model failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Stored uploaded SysML model", "filename", file.Filename, "dest", dest)
		c.JSON(http.StatusOK, gin.H{
			"status":   "uploaded",
			"filename": file.Filename,
		})
	}
}

// handleListAssets returns the active run's asset register, 404 when
// stage 1 has not produced one yet.
func (s *Service) handleListAssets() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := s.pipe.Runs().ActiveRun()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		assets, err := pipeline.AssetRepo(run).LoadAll()
		if err != nil {
			if errors.Is(err, store.ErrRepositoryNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no assets generated yet"})
				return
			}
			// Undecodable rows are skipped, not fatal: serve what decoded.
			var rowErrs *store.RowErrors
			if !errors.As(err, &rowErrs) {
				slog.Error("Loading assets failed", "run", run.Name, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			slog.Warn("Skipped malformed asset rows", "run", run.Name, "error", rowErrs)
		}

		c.JSON(http.StatusOK, gin.H{
			"run":    run.Name,
			"count":  len(assets),
			"assets": listOrEmpty(assets),
		})
	}
}

// handleDownloadCSV streams one entity's raw CSV from the active run.
func (s *Service) handleDownloadCSV() gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")
		filename, ok := pipeline.EntityFiles[entity]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity " + entity})
			return
		}

		run, err := s.pipe.Runs().ActiveRun()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		data, err := os.ReadFile(run.Path(filename))
		if err != nil {
			if os.IsNotExist(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": filename + " has not been generated yet"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK, "text/csv", data)
	}
}

// StartRunRequest is the body of POST /v1/runs. Name activates an
// existing run; otherwise a new run starts (force skips empty-run reuse).
type StartRunRequest struct {
	Name  string `json:"name"`
	Force bool   `json:"force"`
}

func (s *Service) handleListRuns() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := s.pipe.Runs().ListRuns()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		active, err := s.pipe.Runs().ActiveRun()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"runs":   runs,
			"active": active.Name,
		})
	}
}

// handleStartRun starts or activates a run and re-points the run log at
// its directory so subsequent stage output lands with its evidence.
func (s *Service) handleStartRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartRunRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		var run *store.Run
		var err error
		if req.Name != "" {
			if err := validation.ValidateRunName(req.Name); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			run, err = s.pipe.Runs().Activate(req.Name)
		} else {
			run, err = s.pipe.Runs().StartNewRun(req.Force)
		}
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if s.logger != nil {
			if err := s.logger.Redirect(run.Dir); err != nil {
				slog.Warn("Could not move run log", "dir", run.Dir, "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"run":    run.Name,
			"reused": run.Reused,
		})
	}
}
