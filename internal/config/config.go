// Package config loads the collector configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"
)

// FormatVersion is the configuration format produced by Default.
const FormatVersion = "1.1.0"

// supportedFormats accepts every 1.x configuration file.
const supportedFormats = ">=1.0.0, <2.0.0"

// Config represents the collector configuration file.
type Config struct {
	FormatVersion string `json:"format_version"`
	Workers       uint   `json:"workers"`        // Parallel compaction workers
	DeadRatio     uint   `json:"dead_ratio"`     // Percent of dead space a region may keep; 0 disables skip compaction
	VerifyBitmaps bool   `json:"verify_bitmaps"` // Clear bitmaps of compacted regions
	Regions       uint   `json:"regions"`        // Heap size in regions
	RegionWords   uint   `json:"region_words"`   // Region size in words, multiple of 64
	MetricsAddr   string `json:"metrics_addr"`   // host:port of the /metrics endpoint, empty disables it
	HTTP3         bool   `json:"http3"`          // Also serve metrics over HTTP/3
	Verbose       bool   `json:"verbose"`
	Debug         bool   `json:"debug"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		FormatVersion: FormatVersion,
		Workers:       4,
		DeadRatio:     0,
		Regions:       64,
		RegionWords:   512,
	}
}

var (
	ErrUnsupportedFormat = errors.New("config: unsupported format version")
	ErrInvalid           = errors.New("config: invalid value")
)

// Load reads configPath on top of the defaults. A missing file yields the
// defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to configPath as indented JSON.
func Save(configPath string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, append(data, '\n'), 0o644)
}

// Validate checks the format version and every value range.
func (c *Config) Validate() error {
	if err := checkFormat(c.FormatVersion); err != nil {
		return err
	}
	if c.Workers == 0 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	}
	if c.DeadRatio > 100 {
		return fmt.Errorf("%w: dead_ratio %d outside [0, 100]", ErrInvalid, c.DeadRatio)
	}
	if c.Regions == 0 {
		return fmt.Errorf("%w: regions must be at least 1", ErrInvalid)
	}
	if c.RegionWords == 0 || c.RegionWords%64 != 0 {
		return fmt.Errorf("%w: region_words %d is not a positive multiple of 64", ErrInvalid, c.RegionWords)
	}
	if c.HTTP3 && c.MetricsAddr == "" {
		return fmt.Errorf("%w: http3 requires metrics_addr", ErrInvalid)
	}
	return nil
}

func checkFormat(v string) error {
	if v == "" {
		return fmt.Errorf("%w: format_version missing", ErrUnsupportedFormat)
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedFormat, v, err)
	}
	con, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !con.Check(sv) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedFormat, sv, supportedFormats)
	}
	return nil
}
