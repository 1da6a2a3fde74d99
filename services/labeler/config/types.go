// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the labeler service configuration from YAML,
// creating a default file on first run.
package config

// Config is the full labeler service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Roster  RosterConfig  `yaml:"roster"`
	Remote  RemoteConfig  `yaml:"remote"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port the gin server listens on. Overridable via LABELER_PORT.
	Port string `yaml:"port"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Dir enables file logging when non-empty. Supports ~ expansion.
	Dir string `yaml:"dir"`
	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// StorageConfig configures the local durable stores.
type StorageConfig struct {
	// LabelsDir holds one JSON file per annotation record.
	LabelsDir string `yaml:"labels_dir"`
	// PDFCacheDir holds locally cached copies of remote documents.
	PDFCacheDir string `yaml:"pdf_cache_dir"`
	// ProgressDir is the Badger database directory used for the local
	// completion table when no remote progress sheet is configured.
	ProgressDir string `yaml:"progress_dir"`
}

// RosterConfig locates the read-only patient roster dataset.
type RosterConfig struct {
	// CSVPath is the roster file (maskedid, eye, visual_field_number, ...).
	CSVPath string `yaml:"csv_path"`
	// Watch reloads the roster when the CSV changes on disk.
	Watch bool `yaml:"watch"`
	// ImagesDir is the root directory scanned for per-patient image folders.
	ImagesDir string `yaml:"images_dir"`
}

// RemoteConfig configures the shared Google backends. All fields are
// optional; with no credentials the service runs local-only.
type RemoteConfig struct {
	// CredentialsFile is a service-account key JSON path.
	CredentialsFile string `yaml:"credentials_file"`
	// SpreadsheetID is the shared annotation spreadsheet.
	SpreadsheetID string `yaml:"spreadsheet_id"`
	// LabelsSheet is the tab holding annotation rows.
	LabelsSheet string `yaml:"labels_sheet"`
	// ProgressSheet is the tab holding per-specialist completion rows.
	ProgressSheet string `yaml:"progress_sheet"`
	// PDFFolderID is the Drive folder holding exam PDFs.
	PDFFolderID string `yaml:"pdf_folder_id"`
	// DataFolderID is the Drive folder holding roster CSVs.
	DataFolderID string `yaml:"data_folder_id"`
	// Bucket is an optional GCS bucket staging rasterized printouts.
	Bucket string `yaml:"bucket"`
	// RatePerSecond caps sheet API calls to stay inside quota.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// CacheConfig configures the bounded patient cache.
type CacheConfig struct {
	// MaxPatients is the LRU capacity of each cache map.
	MaxPatients int `yaml:"max_patients"`
	// StalenessSeconds bounds how long completion-table reads are reused.
	StalenessSeconds int `yaml:"staleness_seconds"`
	// Prefetch warms the next patient's entry in the background.
	Prefetch bool `yaml:"prefetch"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Port: "12300"},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.progression/logs",
		},
		Storage: StorageConfig{
			LabelsDir:   "labels",
			PDFCacheDir: "pdf_cache",
			ProgressDir: "~/.progression/progress",
		},
		Roster: RosterConfig{
			CSVPath:   "data/opv_24-2_prepared.csv",
			ImagesDir: "data",
			Watch:     true,
		},
		Remote: RemoteConfig{
			LabelsSheet:   "labels_spreadsheet",
			ProgressSheet: "progress_tracking",
			RatePerSecond: 1,
		},
		Cache: CacheConfig{
			MaxPatients:      5,
			StalenessSeconds: 30,
			Prefetch:         true,
		},
	}
}
