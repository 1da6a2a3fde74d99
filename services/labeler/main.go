// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The labeler service is the persistence and progress core of the
// glaucoma progression labeling study: specialists annotate
// visual-field acquisitions, records land in local JSON plus the shared
// study spreadsheet, and completion state drives which patient each
// specialist sees next.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
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

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/assets"
	"github.com/glaucomalab/progression/services/labeler/cache"
	"github.com/glaucomalab/progression/services/labeler/config"
	"github.com/glaucomalab/progression/services/labeler/handlers"
	"github.com/glaucomalab/progression/services/labeler/labels"
	"github.com/glaucomalab/progression/services/labeler/observability"
	"github.com/glaucomalab/progression/services/labeler/prefetch"
	"github.com/glaucomalab/progression/services/labeler/progress"
	"github.com/glaucomalab/progression/services/labeler/roster"
	"github.com/glaucomalab/progression/services/labeler/routes"
	"github.com/glaucomalab/progression/services/labeler/sheets"
)

const serviceName = "labeler-service"

// initTracer wires OTLP trace export when a collector endpoint is
// configured; without one, tracing stays off and the returned shutdown
// is a no-op.
func initTracer(logger *logging.Logger) (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		logger.Debug("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	cfgPath := os.Getenv("LABELER_CONFIG")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "labeler",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	shutdownTracer, err := initTracer(logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer shutdownTracer(context.Background())

	metrics := observability.InitMetrics()
	ctx := context.Background()

	// A missing roster CSV can be pulled from the study's Drive data
	// folder on first run.
	if _, statErr := os.Stat(cfg.Roster.CSVPath); os.IsNotExist(statErr) &&
		cfg.Remote.CredentialsFile != "" && cfg.Remote.DataFolderID != "" {
		fetcher, err := assets.NewDriveFetcher(ctx, cfg.Remote.CredentialsFile,
			cfg.Remote.DataFolderID, filepath.Dir(cfg.Roster.CSVPath), logger)
		if err != nil {
			log.Fatalf("Failed to create drive fetcher: %v", err)
		}
		if _, err := fetcher.Fetch(ctx, filepath.Base(cfg.Roster.CSVPath)); err != nil {
			log.Fatalf("Failed to fetch roster from drive: %v", err)
		}
	}

	rosterData, err := roster.Load(cfg.Roster.CSVPath, logger)
	if err != nil {
		log.Fatalf("Failed to load roster: %v", err)
	}
	if cfg.Roster.Watch {
		if err := rosterData.Watch(); err != nil {
			logger.Warn("roster watch disabled", "error", err)
		}
		defer rosterData.Close()
	}

	// Remote backends are optional; without credentials everything runs
	// against local storage only.
	var sheetClient *sheets.Client
	if cfg.Remote.CredentialsFile != "" && cfg.Remote.SpreadsheetID != "" {
		sheetClient, err = sheets.New(ctx, cfg.Remote.CredentialsFile,
			cfg.Remote.SpreadsheetID, cfg.Remote.RatePerSecond)
		if err != nil {
			log.Fatalf("Failed to create sheets client: %v", err)
		}
		logger.Info("remote sheet configured", "spreadsheet", cfg.Remote.SpreadsheetID)
	} else {
		logger.Info("no remote sheet configured, running local-only")
	}

	var observed sheets.Table
	if sheetClient != nil {
		observed = sheets.WithObserver(sheetClient, metrics.RecordSheetCall)
	}

	var remote labels.RemoteTable
	if observed != nil {
		remote = observed
	}
	store, err := labels.New(cfg.Storage.LabelsDir, remote, cfg.Remote.LabelsSheet, logger)
	if err != nil {
		log.Fatalf("Failed to create label store: %v", err)
	}

	var table progress.Table
	if observed != nil {
		table = progress.NewSheetTable(observed, cfg.Remote.ProgressSheet)
	} else {
		badgerTable, err := progress.OpenBadgerTable(cfg.Storage.ProgressDir)
		if err != nil {
			log.Fatalf("Failed to open progress database: %v", err)
		}
		defer badgerTable.Close()
		table = badgerTable
	}
	tracker := progress.NewTracker(table, rosterData, store,
		time.Duration(cfg.Cache.StalenessSeconds)*time.Second, logger)

	resolver, cleanup, err := buildResolver(ctx, cfg, rosterData, logger)
	if err != nil {
		log.Fatalf("Failed to create asset resolver: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	patientCache := cache.New(cfg.Cache.MaxPatients, resolver, store, rosterData, logger)

	var prefetcher *prefetch.Prefetcher
	if cfg.Cache.Prefetch {
		prefetcher = prefetch.New(patientCache, logger)
		prefetcher.SetObserver(metrics.RecordPrefetch)
		defer prefetcher.Stop()
	} else {
		logger.Info("prefetch disabled by config")
	}

	h := handlers.New(rosterData, store, tracker, patientCache, prefetcher, metrics, logger)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, h, metrics)

	logger.Info("starting labeler server", "port", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildResolver picks the asset backend: a GCS bucket when configured,
// else the images directory when it exists, else the roster's filename
// columns, backed by the Drive PDF folder when one is configured.
func buildResolver(ctx context.Context, cfg config.Config, rosterData *roster.Roster, logger *logging.Logger) (assets.Resolver, func() error, error) {
	if cfg.Remote.Bucket != "" && cfg.Remote.CredentialsFile != "" {
		bucket, err := assets.NewBucketResolver(ctx, cfg.Remote.CredentialsFile,
			cfg.Remote.Bucket, cfg.Storage.PDFCacheDir)
		if err != nil {
			return nil, nil, err
		}
		return bucket, bucket.Close, nil
	}

	if info, err := os.Stat(cfg.Roster.ImagesDir); err == nil && info.IsDir() {
		dir, err := assets.NewDirResolver(cfg.Roster.ImagesDir, nil)
		if err != nil {
			return nil, nil, err
		}
		return dir, nil, nil
	}

	resolver := assets.NewRosterResolver(rosterData, cfg.Roster.ImagesDir)
	if cfg.Remote.CredentialsFile != "" && cfg.Remote.PDFFolderID != "" {
		fetcher, err := assets.NewDriveFetcher(ctx, cfg.Remote.CredentialsFile,
			cfg.Remote.PDFFolderID, cfg.Storage.PDFCacheDir, logger)
		if err != nil {
			return nil, nil, err
		}
		resolver.WithFetcher(fetcher)
	}
	return resolver, nil, nil
}
