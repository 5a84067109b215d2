// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout of the optional config file. All fields
// are pointers so that an absent key leaves the lower-precedence value alone.
type fileConfig struct {
	Log struct {
		Level   *string `yaml:"level"`
		Service *string `yaml:"service"`
	} `yaml:"log"`

	Data struct {
		Dir    *string `yaml:"dir"`
		DBPath *string `yaml:"dbPath"`
	} `yaml:"data"`

	SEQTA struct {
		Base     *string `yaml:"base"`
		Username *string `yaml:"username"`
	} `yaml:"seqta"`

	Refresh struct {
		Interval    *string `yaml:"interval"` // Go duration string
		WindowWeeks *int    `yaml:"windowWeeks"`
		Initial     *bool   `yaml:"initial"`
		Snapshot    *bool   `yaml:"snapshot"`
	} `yaml:"refresh"`

	Cache struct {
		TTL       *string `yaml:"ttl"`
		RedisAddr *string `yaml:"redisAddr"`
		RedisDB   *int    `yaml:"redisDB"`
	} `yaml:"cache"`

	Drive struct {
		ServiceAccountFile *string           `yaml:"serviceAccountFile"`
		FolderID           *string           `yaml:"folderId"`
		Tables             map[string]string `yaml:"tables"`
		SyncOnRefresh      *bool             `yaml:"syncOnRefresh"`
	} `yaml:"drive"`

	API struct {
		ListenAddr     *string `yaml:"listenAddr"`
		TrustedProxies *string `yaml:"trustedProxies"`
		MetricsEnabled *bool   `yaml:"metricsEnabled"`
		MetricsAddr    *string `yaml:"metricsAddr"`
		ReadyStrict    *bool   `yaml:"readyStrict"`
	} `yaml:"api"`

	Telemetry struct {
		Enabled    *bool    `yaml:"enabled"`
		Exporter   *string  `yaml:"exporter"`
		Endpoint   *string  `yaml:"endpoint"`
		SampleRate *float64 `yaml:"sampleRate"`
	} `yaml:"telemetry"`
}

// loadFile parses the YAML config file at path. A missing file is not an
// error; it simply contributes nothing to the merge.
func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}
