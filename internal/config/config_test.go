// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pdscope/pkg/capture"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ============================================================
// Load Tests
// ============================================================

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/dev", cfg.Device.Root)
	assert.Equal(t, "twinkiev2-", cfg.Device.Prefix)
	assert.Equal(t, 115200, cfg.Device.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.Device.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.ProbeTimeout)
	assert.False(t, cfg.Bridge.Enabled())
	assert.Equal(t, 20, cfg.Capture.Slots)
	assert.Equal(t, "block", cfg.Capture.Overflow)
	assert.Equal(t, time.Second, cfg.Capture.ResetSettle)
	assert.Equal(t, 2*time.Second, cfg.Capture.StartupDelay)
	assert.Equal(t, 5, cfg.Capture.MaxReadErrors)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Log.File.Path)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
device:
  prefix: "snoop-"
  read_timeout: 250ms
bridge:
  shell_url: "ws://bridge.local/shell"
  snooper_url: "ws://bridge.local/snooper"
capture:
  output_dir: "/var/lib/pdscope"
  slots: 64
  overflow: drop
  stamp: true
log:
  level: debug
  format: json
  file:
    path: /tmp/pdscope.log
    compress: true
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "snoop-", cfg.Device.Prefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.ReadTimeout)
	assert.True(t, cfg.Bridge.Enabled())
	assert.Equal(t, "/var/lib/pdscope", cfg.Capture.OutputDir)
	assert.Equal(t, 64, cfg.Capture.Slots)
	assert.True(t, cfg.Capture.Stamp)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/pdscope.log", cfg.Log.File.Path)
	assert.True(t, cfg.Log.File.Compress)
	assert.Equal(t, 50, cfg.Log.File.MaxSizeMB, "unset keys keep defaults")

	opts := cfg.CaptureOptions()
	assert.Equal(t, capture.OverflowDrop, opts.Overflow)
	assert.Equal(t, 64, opts.Slots)
	assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	assert.True(t, opts.Stamp)

	serial := cfg.SerialOptions()
	assert.Equal(t, 115200, serial.BaudRate)
	assert.True(t, serial.Exclusive)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
capture:
  slots: 64
log:
  level: info
`)
	t.Setenv("PDSCOPE_CAPTURE_SLOTS", "8")
	t.Setenv("PDSCOPE_LOG_LEVEL", "warn")
	t.Setenv("PDSCOPE_DEVICE_PROBE_TIMEOUT", "2s")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Capture.Slots)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Device.ProbeTimeout)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, `
capture:
  slots: 64
  overflow: block
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("overflow", "block", "")
	flags.Int("slots", 20, "")
	flags.Bool("live", false, "")
	require.NoError(t, flags.Parse([]string{"--overflow=drop", "--live"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "drop", cfg.Capture.Overflow)
	assert.True(t, cfg.Capture.Live)
	assert.Equal(t, 64, cfg.Capture.Slots, "unchanged flag must not override the file")
}

// ============================================================
// Validation Tests
// ============================================================

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero slots", "capture:\n  slots: 0\n"},
		{"unknown overflow", "capture:\n  overflow: spill\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"zero baud", "device:\n  baud: 0\n"},
		{"half bridge", "bridge:\n  shell_url: ws://x/shell\n"},
		{"negative settle", "capture:\n  reset_settle: -1s\n"},
		{"zero read errors", "capture:\n  max_read_errors: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			assert.Error(t, err)
		})
	}
}
