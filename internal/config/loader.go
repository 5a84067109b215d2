// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Loader resolves configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader for the given (possibly empty) config file path.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load builds the effective configuration. A validation failure returns the
// error and the config must not be used.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaultConfig()
	cfg.Version = l.version

	if l.configPath != "" {
		fc, err := loadFile(l.configPath)
		if err != nil {
			return AppConfig{}, err
		}
		if fc != nil {
			mergeFile(&cfg, fc)
		}
	}

	mergeEnv(&cfg)

	// DB path defaults to living inside the data dir.
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "attendance.db")
	}

	if err := Validate(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays non-nil file values onto cfg.
func mergeFile(cfg *AppConfig, fc *fileConfig) {
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogService, fc.Log.Service)
	setString(&cfg.DataDir, fc.Data.Dir)
	setString(&cfg.DBPath, fc.Data.DBPath)
	setString(&cfg.SEQTABase, fc.SEQTA.Base)
	setString(&cfg.SEQTAUsername, fc.SEQTA.Username)
	setDuration(&cfg.RefreshInterval, fc.Refresh.Interval)
	setInt(&cfg.WindowWeeks, fc.Refresh.WindowWeeks)
	setBool(&cfg.InitialRefresh, fc.Refresh.Initial)
	setBool(&cfg.SnapshotEnabled, fc.Refresh.Snapshot)
	setDuration(&cfg.CacheTTL, fc.Cache.TTL)
	setString(&cfg.RedisAddr, fc.Cache.RedisAddr)
	setInt(&cfg.RedisDB, fc.Cache.RedisDB)
	setString(&cfg.ServiceAccountFile, fc.Drive.ServiceAccountFile)
	setString(&cfg.DriveFolderID, fc.Drive.FolderID)
	if len(fc.Drive.Tables) > 0 {
		cfg.DriveTables = fc.Drive.Tables
	}
	setBool(&cfg.SyncOnRefresh, fc.Drive.SyncOnRefresh)
	setString(&cfg.ListenAddr, fc.API.ListenAddr)
	setString(&cfg.TrustedProxies, fc.API.TrustedProxies)
	setBool(&cfg.MetricsEnabled, fc.API.MetricsEnabled)
	setString(&cfg.MetricsAddr, fc.API.MetricsAddr)
	setBool(&cfg.ReadyStrict, fc.API.ReadyStrict)
	setBool(&cfg.OTELEnabled, fc.Telemetry.Enabled)
	setString(&cfg.OTELExporter, fc.Telemetry.Exporter)
	setString(&cfg.OTELEndpoint, fc.Telemetry.Endpoint)
	if fc.Telemetry.SampleRate != nil {
		cfg.OTELSampleRate = *fc.Telemetry.SampleRate
	}
}

// mergeEnv overlays environment variables onto cfg. ENV has the final word,
// except for DriveTables which is file-only data.
func mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString("ATTMON_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("ATTMON_LOG_SERVICE", cfg.LogService)
	cfg.DataDir = ParseString("ATTMON_DATA", cfg.DataDir)
	cfg.DBPath = ParseString("ATTMON_DB_PATH", cfg.DBPath)
	cfg.SEQTABase = ParseString("ATTMON_SEQTA_BASE", cfg.SEQTABase)
	cfg.SEQTAUsername = ParseString("SEQTA_USERNAME", cfg.SEQTAUsername)
	cfg.SEQTAPassword = ParseString("SEQTA_PASSWORD", cfg.SEQTAPassword)
	cfg.RefreshInterval = ParseDuration("ATTMON_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.WindowWeeks = ParseInt("ATTMON_WINDOW_WEEKS", cfg.WindowWeeks)
	cfg.InitialRefresh = ParseBool("ATTMON_INITIAL_REFRESH", cfg.InitialRefresh)
	cfg.SnapshotEnabled = ParseBool("ATTMON_SNAPSHOT", cfg.SnapshotEnabled)
	cfg.CacheTTL = ParseDuration("ATTMON_CACHE_TTL", cfg.CacheTTL)
	cfg.RedisAddr = ParseString("ATTMON_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("ATTMON_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("ATTMON_REDIS_DB", cfg.RedisDB)
	cfg.ServiceAccountFile = ParseString("ATTMON_SERVICE_ACCOUNT_FILE", cfg.ServiceAccountFile)
	cfg.DriveFolderID = ParseString("ATTMON_DRIVE_FOLDER_ID", cfg.DriveFolderID)
	cfg.SyncOnRefresh = ParseBool("ATTMON_DRIVE_SYNC", cfg.SyncOnRefresh)
	cfg.ListenAddr = ParseString("ATTMON_LISTEN", cfg.ListenAddr)
	cfg.APIToken = ParseString("ATTMON_API_TOKEN", cfg.APIToken)
	cfg.TrustedProxies = ParseString("ATTMON_TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.MetricsEnabled = ParseBool("ATTMON_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("ATTMON_METRICS_ADDR", cfg.MetricsAddr)
	cfg.ReadyStrict = ParseBool("ATTMON_READY_STRICT", cfg.ReadyStrict)
	cfg.OTELEnabled = ParseBool("ATTMON_OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELExporter = ParseString("ATTMON_OTEL_EXPORTER", cfg.OTELExporter)
	cfg.OTELEndpoint = ParseString("ATTMON_OTEL_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELSampleRate = ParseFloat("ATTMON_OTEL_SAMPLE_RATE", cfg.OTELSampleRate)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) {
	if src == nil {
		return
	}
	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
	}
}
