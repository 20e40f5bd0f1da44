// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator exposes the TARA pipeline over HTTP. It owns the
// service wiring (run store, generation backend, reference store) and the
// gin router; the analysis itself lives in services/pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AutoTARA/pkg/config"
	"github.com/AleutianAI/AutoTARA/pkg/logging"
	"github.com/AleutianAI/AutoTARA/services/llm"
	"github.com/AleutianAI/AutoTARA/services/pipeline"
	"github.com/AleutianAI/AutoTARA/services/rag"
	"github.com/AleutianAI/AutoTARA/services/store"
)

// Service bundles the HTTP router with the collaborators the handlers
// close over.
type Service struct {
	cfg    config.TARAConfig
	logger *logging.Logger
	llm    llm.Client
	pipe   *pipeline.Pipeline
	router *gin.Engine
}

// New wires a Service from configuration: run store under
// cfg.Output.Dir, the configured generation backend, and the Weaviate
// reference store.
func New(cfg config.TARAConfig, logger *logging.Logger) (*Service, error) {
	runs, err := store.NewManager(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	backend, err := llm.New(cfg.ModelBackend)
	if err != nil {
		return nil, fmt.Errorf("configuring generation backend: %w", err)
	}

	search, err := rag.NewWeaviateStore(cfg.Retrieval.WeaviateURL)
	if err != nil {
		return nil, fmt.Errorf("connecting reference store: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Options{
		Runs:      runs,
		LLM:       backend,
		Search:    search,
		Logger:    logger,
		PromptDir: cfg.Prompts.Dir,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: logger, llm: backend, pipe: pipe}
	s.router = s.buildRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until it exits.
func (s *Service) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	slog.Info("Starting the AutoTARA orchestrator", "addr", addr)
	return s.router.Run(addr)
}

func (s *Service) buildRouter() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("autotara-orchestrator"))
	s.registerRoutes(router)
	return router
}

// InitTracer installs an OTLP gRPC trace exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. The returned function flushes and
// shuts the exporter down; without an endpoint it is a no-op and spans
// stay unexported.
func InitTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("autotara-orchestrator")))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}
