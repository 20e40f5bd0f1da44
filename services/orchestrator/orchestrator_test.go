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
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AutoTARA/pkg/config"
	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/pipeline"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(context.Context, string, string, llm.GenerationParams) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type nilSearch struct{}

func (nilSearch) Search(context.Context, string, int, map[string]string) ([]rag.Document, error) {
	return nil, nil
}

func newTestService(t *testing.T, responses ...string) (*Service, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	base := t.TempDir()
	runs, err := store.NewManager(base)
	require.NoError(t, err)

	backend := &scriptedLLM{responses: responses}
	if len(responses) == 0 {
		backend.responses = []string{"{}"}
	}
	pipe, err := pipeline.New(pipeline.Options{Runs: runs, LLM: backend, Search: nilSearch{}})
	require.NoError(t, err)

	s := &Service{cfg: config.DefaultConfig(), llm: backend, pipe: pipe}
	s.router = s.buildRouter()
	return s, base
}

func perform(s *Service, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestService(t)
	w := perform(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestUploadModel(t *testing.T) {
	s, base := newTestService(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "model.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`{"blocks": []}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/upload-model", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	saved, err := os.ReadFile(filepath.Join(base, UploadedModelFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks": []}`, string(saved))
}

func TestUploadModelMissingFile(t *testing.T) {
	s, _ := newTestService(t)
	w := perform(s, http.MethodPost, "/v1/upload-model", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunStageValidation(t *testing.T) {
	s, _ := newTestService(t)

	w := perform(s, http.MethodPost, "/v1/run-stage/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(s, http.MethodPost, "/v1/run-stage/9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(s, http.MethodPost, "/v1/run-stage/2", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "stage 2 needs an assetId")
}

func TestRunStageUpstreamMissing(t *testing.T) {
	s, _ := newTestService(t)

	w := perform(s, http.MethodPost, "/v1/run-stage/2",
		map[string]any{"assetId": "A-0001"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "upstream stage has not run", decode(t, w)["error"])
}

func TestRunStageOne(t *testing.T) {
	response := "```json\n" + `{"assets": [
	  {"assetId": "ECU-BRAKE-01", "itemId": "i1", "type": "ECU", "description": "brake ecu"}
	]}` + "\n```"
	s, base := newTestService(t, response)

	modelPath := filepath.Join(base, UploadedModelFile)
	require.NoError(t, os.WriteFile(modelPath, []byte(`{"blocks":[]}`), 0o640))

	w := perform(s, http.MethodPost, "/v1/run-stage/1", map[string]any{"forceNewRun": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.EqualValues(t, 1, out["count"])
	records := out["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "A-0001", records[0].(map[string]any)["assetTag"])
}

func TestRunStageOneWithoutModel(t *testing.T) {
	s, _ := newTestService(t)
	w := perform(s, http.MethodPost, "/v1/run-stage/1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListAssets(t *testing.T) {
	response := "```json\n" + `{"assets": [
	  {"assetId": "ECU-BRAKE-01", "itemId": "i1", "type": "ECU", "description": "brake ecu"}
	]}` + "\n```"
	s, base := newTestService(t, response)

	w := perform(s, http.MethodGet, "/v1/assets", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no assets before stage 1")

	modelPath := filepath.Join(base, UploadedModelFile)
	require.NoError(t, os.WriteFile(modelPath, []byte(`{}`), 0o640))
	w = perform(s, http.MethodPost, "/v1/run-stage/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = perform(s, http.MethodGet, "/v1/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.EqualValues(t, 1, out["count"])
	assert.NotEmpty(t, out["run"])
}

func TestListAssetsToleratesMalformedRows(t *testing.T) {
	response := "```json\n" + `{"assets": [
	  {"assetId": "ECU-BRAKE-01", "itemId": "i1", "type": "ECU", "description": "brake ecu"}
	]}` + "\n```"
	s, base := newTestService(t, response)

	modelPath := filepath.Join(base, UploadedModelFile)
	require.NoError(t, os.WriteFile(modelPath, []byte(`{}`), 0o640))
	w := perform(s, http.MethodPost, "/v1/run-stage/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A truncated row lands in the register, e.g. after a crashed write.
	run, err := s.pipe.Runs().ActiveRun()
	require.NoError(t, err)
	f, err := os.OpenFile(run.Path(pipeline.EntityFiles["assets"]), os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("A-9999,truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w = perform(s, http.MethodGet, "/v1/assets", nil)
	require.Equal(t, http.StatusOK, w.Code, "bad rows are skipped, not fatal")
	out := decode(t, w)
	assert.EqualValues(t, 1, out["count"])
	assets := out["assets"].([]any)
	require.Len(t, assets, 1)
	assert.Equal(t, "ECU-BRAKE-01", assets[0].(map[string]any)["assetId"])
}

func TestDownloadCSV(t *testing.T) {
	response := "```json\n" + `{"assets": [
	  {"assetId": "ECU-BRAKE-01", "itemId": "i1", "type": "ECU", "description": "brake ecu"}
	]}` + "\n```"
	s, base := newTestService(t, response)

	w := perform(s, http.MethodGet, "/v1/csv/bogus", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "unknown entity")

	w = perform(s, http.MethodGet, "/v1/csv/assets", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "not generated yet")

	modelPath := filepath.Join(base, UploadedModelFile)
	require.NoError(t, os.WriteFile(modelPath, []byte(`{}`), 0o640))
	w = perform(s, http.MethodPost, "/v1/run-stage/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = perform(s, http.MethodGet, "/v1/csv/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "assetTag,"),
		"payload is the raw CSV including header")
}

func TestRuns(t *testing.T) {
	s, _ := newTestService(t)

	w := perform(s, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)["run"].(string)
	assert.True(t, strings.HasPrefix(first, "run_"))

	w = perform(s, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, first, out["active"])

	w = perform(s, http.MethodPost, "/v1/runs", map[string]any{"name": "run_19990101_000000"})
	assert.Equal(t, http.StatusNotFound, w.Code, "activating a run that does not exist")

	w = perform(s, http.MethodPost, "/v1/runs", map[string]any{"name": "../somewhere"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "names that leave the output tree are rejected")

	w = perform(s, http.MethodPost, "/v1/runs", map[string]any{"name": first})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, decode(t, w)["run"])
}

func TestModifyStage(t *testing.T) {
	s, _ := newTestService(t, "```json\n{\"one_sentence\": \"revised\"}\n```")

	w := perform(s, http.MethodPost, "/v1/modify-stage/2", map[string]any{
		"prompt_input": "####\nasset = ECU-BRAKE-01\n####",
		"feedback":     "Mention the road user explicitly.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Contains(t, out["raw_output"], "revised")
	parsed := out["parsed"].(map[string]any)
	assert.Equal(t, "revised", parsed["one_sentence"])
}

func TestModifyStageValidation(t *testing.T) {
	s, _ := newTestService(t)

	w := perform(s, http.MethodPost, "/v1/modify-stage/9", map[string]any{"feedback": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(s, http.MethodPost, "/v1/modify-stage/2", map[string]any{"prompt_input": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "feedback is required")
}

func TestModifyStageUnparseableOutput(t *testing.T) {
	s, _ := newTestService(t, "free-form text, no JSON")

	w := perform(s, http.MethodPost, "/v1/modify-stage/4", map[string]any{
		"prompt_input": "####\nthreat\n####",
		"feedback":     "tighten the wording",
	})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "free-form text, no JSON", out["raw_output"])
	assert.Nil(t, out["parsed"])
}
