// Package config loads istgtd's target-list configuration: target
// definitions, backing stores, and server-wide defaults. Grounded on
// dittofs's pkg/config.Load/ApplyDefaults/Validate three-step pipeline
// (unmarshal, fill defaults, validate), adapted from dittofs's YAML file
// format to the XML config file format this core's external interface
// specifies, with a spf13/viper environment-variable overlay applied
// after the XML parse rather than as viper's primary source.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/istgtd/istgtd/internal/bytesize"
	"github.com/spf13/viper"
)

// StorageFile describes the backing file for a target's single LUN.
type StorageFile struct {
	Path      string `xml:"Path" validate:"required"`
	SizeMB    int64  `xml:"SizeMB" validate:"required,gt=0"`
	ReadOnly  bool   `xml:"ReadOnly"`
	BlockSize uint32 `xml:"BlockSize"`
}

// TargetConfig describes one exported target.
type TargetConfig struct {
	Name        string      `xml:"Name" validate:"required"`
	Alias       string      `xml:"Alias"`
	StorageFile StorageFile `xml:"StorageFile" validate:"required"`
}

// Defaults holds the server-wide negotiation defaults applied to every
// target unless a TargetConfig overrides them; it mirrors the fields
// negotiate.TargetPreferences needs.
type Defaults struct {
	MaxRecvDataSegmentLength bytesize.ByteSize `xml:"MaxRecvDataSegmentLength"`
	MaxBurstLength           bytesize.ByteSize `xml:"MaxBurstLength"`
	FirstBurstLength         bytesize.ByteSize `xml:"FirstBurstLength"`
	InitialR2T               string            `xml:"InitialR2T" validate:"omitempty,oneof=Yes No"`
	ImmediateData            string            `xml:"ImmediateData" validate:"omitempty,oneof=Yes No"`
	HeaderDigest             string            `xml:"HeaderDigest" validate:"omitempty,oneof=None CRC32C"`
	DataDigest               string            `xml:"DataDigest" validate:"omitempty,oneof=None CRC32C"`
}

// Config is istgtd's full runtime configuration, unmarshaled from an XML
// config file and overlaid with ISTGTD_*-prefixed environment variables.
type Config struct {
	XMLName xml.Name `xml:"istgtd"`

	Port                   int            `xml:"Port"`
	AllowSloppyNegotiation bool           `xml:"AllowSloppyNegotiation"`
	LogLevel               string         `xml:"LogLevel" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFormat              string         `xml:"LogFormat" validate:"omitempty,oneof=text json"`
	IdleTimeoutSeconds      int            `xml:"IdleTimeoutSeconds"`
	ShutdownTimeoutSeconds  int            `xml:"ShutdownTimeoutSeconds"`

	// MetricsPort, when nonzero, exposes a Prometheus /metrics endpoint
	// on that port in addition to the iSCSI TCP listener.
	MetricsPort int `xml:"MetricsPort"`

	Defaults   Defaults       `xml:"Defaults"`
	TargetList []TargetConfig `xml:"Target"`
}

var validate = validator.New()

// ApplyDefaults fills any zero-valued field with this core's built-in
// default, the same two-pass shape as dittofs's config.ApplyDefaults:
// unmarshal first, then fill gaps, so a config file only needs to state
// what it wants to override.
func ApplyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 3260
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.IdleTimeoutSeconds == 0 {
		cfg.IdleTimeoutSeconds = 600
	}
	if cfg.ShutdownTimeoutSeconds == 0 {
		cfg.ShutdownTimeoutSeconds = 30
	}
	if cfg.Defaults.MaxRecvDataSegmentLength == 0 {
		cfg.Defaults.MaxRecvDataSegmentLength = 8 * bytesize.KiB
	}
	if cfg.Defaults.MaxBurstLength == 0 {
		cfg.Defaults.MaxBurstLength = 256 * bytesize.KiB
	}
	if cfg.Defaults.FirstBurstLength == 0 {
		cfg.Defaults.FirstBurstLength = 64 * bytesize.KiB
	}
	if cfg.Defaults.InitialR2T == "" {
		cfg.Defaults.InitialR2T = "Yes"
	}
	if cfg.Defaults.ImmediateData == "" {
		cfg.Defaults.ImmediateData = "Yes"
	}
	if cfg.Defaults.HeaderDigest == "" {
		cfg.Defaults.HeaderDigest = "None"
	}
	if cfg.Defaults.DataDigest == "" {
		cfg.Defaults.DataDigest = "None"
	}
	for i := range cfg.TargetList {
		if cfg.TargetList[i].StorageFile.BlockSize == 0 {
			cfg.TargetList[i].StorageFile.BlockSize = 512
		}
	}
}

// Validate checks structural invariants beyond what validator struct
// tags express: unique target names and at least one target configured.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.TargetList) == 0 {
		return fmt.Errorf("config: at least one Target is required")
	}
	seen := make(map[string]bool, len(cfg.TargetList))
	for _, t := range cfg.TargetList {
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Load reads an XML config file at path, applies environment-variable
// overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers ISTGTD_*-prefixed environment variables over
// the handful of server-wide scalars that make sense to override without
// editing the target list, following dittofs's env-beats-file precedence
// for the keys it supports.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("ISTGTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("PORT") {
		if p, err := strconv.Atoi(v.GetString("PORT")); err == nil {
			cfg.Port = p
		}
	}
	if v.IsSet("LOG_LEVEL") {
		cfg.LogLevel = v.GetString("LOG_LEVEL")
	}
	if v.IsSet("LOG_FORMAT") {
		cfg.LogFormat = v.GetString("LOG_FORMAT")
	}
	if v.IsSet("ALLOW_SLOPPY_NEGOTIATION") {
		cfg.AllowSloppyNegotiation = v.GetBool("ALLOW_SLOPPY_NEGOTIATION")
	}
	if v.IsSet("METRICS_PORT") {
		if p, err := strconv.Atoi(v.GetString("METRICS_PORT")); err == nil {
			cfg.MetricsPort = p
		}
	}
}
