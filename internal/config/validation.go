// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the resolved configuration for values that would make the
// daemon misbehave at runtime. It fails fast rather than limping along.
func Validate(cfg AppConfig) error {
	base := strings.TrimSpace(cfg.SEQTABase)
	if base == "" {
		return fmt.Errorf("SEQTA base URL is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid SEQTA base URL %q: %w", MaskURL(base), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported SEQTA base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("SEQTA base URL %q is missing host", MaskURL(base))
	}

	if cfg.WindowWeeks <= 0 {
		return fmt.Errorf("window weeks must be positive, got %d", cfg.WindowWeeks)
	}
	if cfg.WindowWeeks > 52 {
		return fmt.Errorf("window weeks must be at most 52, got %d", cfg.WindowWeeks)
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", cfg.RefreshInterval)
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data dir is empty")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen address is empty")
	}

	if cfg.SyncOnRefresh {
		if strings.TrimSpace(cfg.ServiceAccountFile) == "" {
			return fmt.Errorf("drive sync enabled but service account file is not set")
		}
		if len(cfg.DriveTables) == 0 {
			return fmt.Errorf("drive sync enabled but no tables are configured")
		}
		for name, id := range cfg.DriveTables {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("drive table %q has an empty file ID", name)
			}
		}
	}

	if cfg.OTELEnabled {
		switch cfg.OTELExporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("unsupported OTLP exporter type %q (supported: grpc, http)", cfg.OTELExporter)
		}
		if strings.TrimSpace(cfg.OTELEndpoint) == "" {
			return fmt.Errorf("telemetry enabled but OTLP endpoint is not set")
		}
		if cfg.OTELSampleRate < 0 || cfg.OTELSampleRate > 1 {
			return fmt.Errorf("OTLP sample rate must be in [0,1], got %v", cfg.OTELSampleRate)
		}
	}

	return nil
}
