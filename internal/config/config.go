// SPDX-License-Identifier: MIT

// Package config loads and validates the attendanced configuration with
// precedence ENV > file > defaults.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	// Logging
	LogLevel   string
	LogService string

	// Storage
	DataDir string
	DBPath  string

	// SEQTA feed
	SEQTABase     string // e.g. https://ta.sirius.vic.edu.au
	SEQTAUsername string
	SEQTAPassword string

	// Refresh
	RefreshInterval time.Duration
	WindowWeeks     int  // fetch window: today minus N weeks
	InitialRefresh  bool // run a refresh on startup
	SnapshotEnabled bool // write parquet snapshot after refresh

	// Fetch cache
	CacheTTL      time.Duration
	RedisAddr     string // empty = in-memory cache
	RedisPassword string
	RedisDB       int

	// Google Drive
	ServiceAccountFile string
	DriveFolderID      string            // shared folder for created files
	DriveTables        map[string]string // table name -> Drive file ID
	SyncOnRefresh      bool              // pull reference tables during refresh

	// API server
	ListenAddr     string
	APIToken       string
	TrustedProxies string // CSV of CIDRs
	MetricsEnabled bool
	MetricsAddr    string
	ReadyStrict    bool

	// Telemetry
	OTELEnabled    bool
	OTELExporter   string // "grpc" or "http"
	OTELEndpoint   string
	OTELSampleRate float64

	// Version is injected by the daemon at load time.
	Version string
}

// defaultConfig returns the built-in defaults, before file and ENV overlays.
func defaultConfig() AppConfig {
	home, _ := os.UserHomeDir()
	return AppConfig{
		LogLevel:           "info",
		LogService:         "attendanced",
		DataDir:            "data",
		SEQTABase:          "https://ta.sirius.vic.edu.au",
		SEQTAUsername:      "mgm",
		RefreshInterval:    6 * time.Hour,
		WindowWeeks:        18,
		InitialRefresh:     true,
		SnapshotEnabled:    true,
		CacheTTL:           1 * time.Hour,
		ServiceAccountFile: filepath.Join(home, ".local", "keys", "google_drive_oauth2_key.json"),
		DriveTables:        map[string]string{},
		ListenAddr:         ":8080",
		MetricsEnabled:     true,
		MetricsAddr:        ":9090",
		OTELExporter:       "grpc",
		OTELSampleRate:     1.0,
	}
}

// MaskURL removes user info from a URL string for safe logging.
func MaskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}
