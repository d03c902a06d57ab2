// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads pdscope settings from an optional YAML file,
// PDSCOPE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/pdscope/pkg/capture"
	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

// EnvPrefix prefixes environment overrides (PDSCOPE_CAPTURE_SLOTS)
const EnvPrefix = "PDSCOPE"

// Config is the full pdscope configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Capture CaptureConfig `mapstructure:"capture"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Log     LogConfig     `mapstructure:"log"`
}

// DeviceConfig locates and opens local serial devices
type DeviceConfig struct {
	Root         string        `mapstructure:"root"`
	Prefix       string        `mapstructure:"prefix"`
	Baud         int           `mapstructure:"baud"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// BridgeConfig reaches a device through a WebSocket serial bridge. Both
// URLs must be set to use it.
type BridgeConfig struct {
	ShellURL    string `mapstructure:"shell_url"`
	SnooperURL  string `mapstructure:"snooper_url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

// Enabled reports whether both bridge URLs are configured
func (b BridgeConfig) Enabled() bool {
	return b.ShellURL != "" && b.SnooperURL != ""
}

// CaptureConfig controls capture sessions
type CaptureConfig struct {
	OutputDir     string        `mapstructure:"output_dir"`
	Slots         int           `mapstructure:"slots"`
	Overflow      string        `mapstructure:"overflow"`
	Live          bool          `mapstructure:"live"`
	Stamp         bool          `mapstructure:"stamp"`
	ResetSettle   time.Duration `mapstructure:"reset_settle"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	MaxReadErrors int           `mapstructure:"max_read_errors"`
}

// CatalogConfig locates the session database. An empty path disables it.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // text | json
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig adds a rotating log file. An empty path disables it.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FlagKeys maps configuration keys to the command line flags that
// override them
var FlagKeys = map[string]string{
	"device.root":          "device-root",
	"device.prefix":        "device-prefix",
	"device.baud":          "baud",
	"bridge.shell_url":     "shell-url",
	"bridge.snooper_url":   "snooper-url",
	"bridge.username":      "username",
	"bridge.no_ssl_verify": "no-ssl-verify",
	"capture.output_dir":   "output-dir",
	"capture.overflow":     "overflow",
	"capture.live":         "live",
	"capture.stamp":        "stamp",
	"capture.slots":        "slots",
	"catalog.path":         "catalog",
	"log.level":            "log-level",
	"log.format":           "log-format",
}

// Load reads configuration. An empty path searches
// $HOME/.config/pdscope and the working directory for pdscope.yaml; a
// missing file there is not an error. Flags present in flags override
// file and environment values when they were set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pdscope")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pdscope"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Device
	v.SetDefault("device.root", link.DefaultRoot)
	v.SetDefault("device.prefix", link.DefaultPrefix)
	v.SetDefault("device.baud", link.DefaultBaudRate)
	v.SetDefault("device.read_timeout", link.DefaultReadTimeout)
	v.SetDefault("device.probe_timeout", link.DefaultProbeTimeout)

	// Bridge
	v.SetDefault("bridge.shell_url", "")
	v.SetDefault("bridge.snooper_url", "")
	v.SetDefault("bridge.username", "admin")
	v.SetDefault("bridge.no_ssl_verify", false)

	// Capture
	v.SetDefault("capture.output_dir", ".")
	v.SetDefault("capture.slots", stream.DefaultSlots)
	v.SetDefault("capture.overflow", capture.OverflowBlock.String())
	v.SetDefault("capture.live", false)
	v.SetDefault("capture.stamp", false)
	v.SetDefault("capture.reset_settle", capture.DefaultResetSettle)
	v.SetDefault("capture.startup_delay", capture.DefaultStartupDelay)
	v.SetDefault("capture.shutdown_grace", capture.DefaultShutdownGrace)
	v.SetDefault("capture.max_read_errors", capture.DefaultMaxReadErrors)

	// Catalog
	v.SetDefault("catalog.path", "")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 28)
	v.SetDefault("log.file.compress", false)
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.Device.Baud <= 0 {
		return fmt.Errorf("device.baud must be positive, got %d", c.Device.Baud)
	}
	if c.Device.ReadTimeout <= 0 {
		return fmt.Errorf("device.read_timeout must be positive, got %s", c.Device.ReadTimeout)
	}
	if c.Device.ProbeTimeout <= 0 {
		return fmt.Errorf("device.probe_timeout must be positive, got %s", c.Device.ProbeTimeout)
	}
	if (c.Bridge.ShellURL == "") != (c.Bridge.SnooperURL == "") {
		return fmt.Errorf("bridge.shell_url and bridge.snooper_url must be set together")
	}
	if c.Capture.Slots <= 0 {
		return fmt.Errorf("capture.slots must be positive, got %d", c.Capture.Slots)
	}
	if _, err := capture.ParseOverflowPolicy(c.Capture.Overflow); err != nil {
		return err
	}
	if c.Capture.ResetSettle < 0 || c.Capture.StartupDelay < 0 || c.Capture.ShutdownGrace < 0 {
		return fmt.Errorf("capture delays must not be negative")
	}
	if c.Capture.MaxReadErrors <= 0 {
		return fmt.Errorf("capture.max_read_errors must be positive, got %d", c.Capture.MaxReadErrors)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}

// SerialOptions returns the options for opening local devices
func (c *Config) SerialOptions() link.SerialOptions {
	return link.SerialOptions{
		BaudRate:    c.Device.Baud,
		ReadTimeout: c.Device.ReadTimeout,
		Exclusive:   true,
	}
}

// CaptureOptions returns pipeline options. Callers add the listener,
// recorder and logger.
func (c *Config) CaptureOptions() capture.Options {
	opts := capture.DefaultOptions()
	opts.OutputDir = c.Capture.OutputDir
	opts.Slots = c.Capture.Slots
	opts.Overflow, _ = capture.ParseOverflowPolicy(c.Capture.Overflow)
	opts.Stamp = c.Capture.Stamp
	opts.ReadTimeout = c.Device.ReadTimeout
	opts.ProbeTimeout = c.Device.ProbeTimeout
	opts.ResetSettle = c.Capture.ResetSettle
	opts.StartupDelay = c.Capture.StartupDelay
	opts.ShutdownGrace = c.Capture.ShutdownGrace
	opts.MaxReadErrors = c.Capture.MaxReadErrors
	return opts
}
