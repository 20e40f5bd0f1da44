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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Service) registerRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/upload-model", s.handleUploadModel())
		v1.POST("/run-stage/:id", s.handleRunStage())
		v1.POST("/modify-stage/:id", s.handleModifyStage())
		v1.GET("/assets", s.handleListAssets())
		v1.GET("/csv/:entity", s.handleDownloadCSV())
		v1.GET("/runs", s.handleListRuns())
		v1.POST("/runs", s.handleStartRun())
	}
}
