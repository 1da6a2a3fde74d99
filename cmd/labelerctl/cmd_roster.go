// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glaucomalab/progression/services/labeler/roster"
)

var rosterCheckVerbose bool

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the patient roster CSV",
}

// rosterCheckCmd validates the configured roster the same way the
// service loads it at startup. Rows with invalid identities are logged
// and dropped, so a check run with --log-level info shows exactly what
// the service would skip.
var rosterCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the roster CSV and report what the service would see",
	Run:   runRosterCheck,
}

func init() {
	rosterCheckCmd.Flags().BoolVarP(&rosterCheckVerbose, "verbose", "v", false,
		"List every patient with its expected eye/field pairs")
}

func runRosterCheck(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	rosterData, err := roster.Load(cfg.Roster.CSVPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roster check failed: %v\n", err)
		os.Exit(1)
	}

	patients := rosterData.Patients()
	acquisitions := 0
	for _, p := range patients {
		acquisitions += len(rosterData.ExpectedPairs(p))
	}

	fmt.Printf("Roster: %s\n", cfg.Roster.CSVPath)
	fmt.Printf("Patients:     %d\n", len(patients))
	fmt.Printf("Acquisitions: %d\n", acquisitions)

	if rosterCheckVerbose {
		fmt.Println()
		for _, p := range patients {
			fmt.Printf("%s\n", p)
			for _, pair := range rosterData.ExpectedPairs(p) {
				fmt.Printf("  %s %s\n", pair.Eye, pair.FieldIndex)
			}
		}
	}
}
