// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glaucomalab/progression/services/labeler/progress"
)

var (
	progressJSONOutput bool
	progressExportOut  string
	progressExportJSON bool
	progressResetYes   bool
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect and maintain specialist completion state",
}

var progressShowCmd = &cobra.Command{
	Use:   "show [specialist]",
	Short: "Show completion stats for one specialist or the whole study",
	Args:  cobra.MaximumNArgs(1),
	Run:   runProgressShow,
}

var progressExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the study progress report as CSV (or JSON with --json)",
	Run:   runProgressExport,
}

// progressAutoMarkCmd runs the same sweep the service exposes over
// HTTP: any available patient whose expected acquisitions are all
// labeled gets marked complete.
var progressAutoMarkCmd = &cobra.Command{
	Use:   "automark <specialist>",
	Short: "Mark every fully-labeled available patient complete",
	Args:  cobra.ExactArgs(1),
	Run:   runProgressAutoMark,
}

var progressResetCmd = &cobra.Command{
	Use:   "reset <specialist>",
	Short: "Clear a specialist's completion row",
	Args:  cobra.ExactArgs(1),
	Run:   runProgressReset,
}

func init() {
	progressShowCmd.Flags().BoolVar(&progressJSONOutput, "json", false,
		"Output as JSON for scripting")
	progressExportCmd.Flags().StringVarP(&progressExportOut, "out", "o", "",
		"Destination file (default: stdout)")
	progressExportCmd.Flags().BoolVar(&progressExportJSON, "json", false,
		"Write the timestamped JSON report instead of CSV")
	progressResetCmd.Flags().BoolVarP(&progressResetYes, "yes", "y", false,
		"Skip the confirmation prompt")
}

func runProgressShow(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	ctx := context.Background()
	tracker, cleanup, err := newTracker(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress show failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var stats []progress.Stats
	if len(args) == 1 {
		one, err := tracker.Stats(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "progress show failed: %v\n", err)
			os.Exit(1)
		}
		stats = []progress.Stats{one}
	} else {
		stats, err = tracker.AllStats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "progress show failed: %v\n", err)
			os.Exit(1)
		}
	}

	if progressJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "progress show failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("%-20s %10s %8s %8s  %s\n",
		"SPECIALIST", "COMPLETED", "TOTAL", "PERCENT", "LAST PATIENT")
	for _, s := range stats {
		fmt.Printf("%-20s %10d %8d %7.1f%%  %s\n",
			s.Specialist, s.CompletedCount, s.TotalPatients, s.Percent, s.LastPatient)
	}
}

func runProgressExport(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	ctx := context.Background()
	tracker, cleanup, err := newTracker(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress export failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	out := os.Stdout
	if progressExportOut != "" {
		f, err := os.Create(progressExportOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "progress export failed: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	export := tracker.ExportReport
	if progressExportJSON {
		export = tracker.ExportJSON
	}
	if err := export(ctx, out); err != nil {
		fmt.Fprintf(os.Stderr, "progress export failed: %v\n", err)
		os.Exit(1)
	}
	if progressExportOut != "" {
		fmt.Printf("Report written to %s\n", progressExportOut)
	}
}

func runProgressAutoMark(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	ctx := context.Background()
	tracker, cleanup, err := newTracker(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress automark failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	marked, err := tracker.AutoMarkCompleted(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress automark failed: %v\n", err)
		os.Exit(1)
	}
	if len(marked) == 0 {
		fmt.Println("No patients newly complete.")
		return
	}
	fmt.Printf("Marked %d patient(s) complete:\n", len(marked))
	for _, p := range marked {
		fmt.Printf("  %s\n", p)
	}
}

func runProgressReset(cmd *cobra.Command, args []string) {
	specialist := args[0]
	if !progressResetYes {
		fmt.Printf("Reset all completion state for %q? [y/N]: ", specialist)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	logger := newLogger()
	defer logger.Close()

	ctx := context.Background()
	tracker, cleanup, err := newTracker(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress reset failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := tracker.Reset(ctx, specialist); err != nil {
		fmt.Fprintf(os.Stderr, "progress reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Progress reset for %s\n", specialist)
}
