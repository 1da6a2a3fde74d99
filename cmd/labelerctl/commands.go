// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/config"
	"github.com/glaucomalab/progression/services/labeler/labels"
	"github.com/glaucomalab/progression/services/labeler/progress"
	"github.com/glaucomalab/progression/services/labeler/roster"
	"github.com/glaucomalab/progression/services/labeler/sheets"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "labelerctl",
		Short: "Operator tooling for the glaucoma progression labeling study",
		Long: `labelerctl inspects and maintains the labeling study's data stores
without going through the labeler HTTP service: roster validation,
progress reporting, and completion maintenance against the same
local directories and study spreadsheet the service uses.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			path := configPath
			if path == "" {
				path = os.Getenv("LABELER_CONFIG")
			}
			if path == "" {
				path = config.DefaultPath
			}
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				log.Fatalf("Error loading config %s: %v", path, err)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the labeler config file (default: $LABELER_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log verbosity (debug, info, warn, error)")

	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterCheckCmd)

	rootCmd.AddCommand(progressCmd)
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressExportCmd)
	progressCmd.AddCommand(progressAutoMarkCmd)
	progressCmd.AddCommand(progressResetCmd)
}

// newLogger builds a stderr-only logger for CLI runs. The service's
// file sink is skipped so commands stay pipeline friendly.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "labelerctl",
	})
}

// newTracker assembles the same tracker stack the service runs:
// roster + label store + progress table, remote-backed when the config
// carries spreadsheet credentials, Badger-backed otherwise.
func newTracker(ctx context.Context, logger *logging.Logger) (*progress.Tracker, func(), error) {
	rosterData, err := roster.Load(cfg.Roster.CSVPath, logger)
	if err != nil {
		return nil, nil, err
	}

	var sheetClient *sheets.Client
	if cfg.Remote.CredentialsFile != "" && cfg.Remote.SpreadsheetID != "" {
		sheetClient, err = sheets.New(ctx, cfg.Remote.CredentialsFile,
			cfg.Remote.SpreadsheetID, cfg.Remote.RatePerSecond)
		if err != nil {
			return nil, nil, err
		}
	}

	var remote labels.RemoteTable
	if sheetClient != nil {
		remote = sheetClient
	}
	store, err := labels.New(cfg.Storage.LabelsDir, remote, cfg.Remote.LabelsSheet, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var table progress.Table
	if sheetClient != nil {
		table = progress.NewSheetTable(sheetClient, cfg.Remote.ProgressSheet)
	} else {
		badgerTable, err := progress.OpenBadgerTable(cfg.Storage.ProgressDir)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { badgerTable.Close() }
		table = badgerTable
	}

	tracker := progress.NewTracker(table, rosterData, store,
		time.Duration(cfg.Cache.StalenessSeconds)*time.Second, logger)
	return tracker, cleanup, nil
}
