// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pdscope/internal/config"
)

func TestConfigure_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()

	closer, err := Configure(logger, config.LogConfig{Level: "debug", Format: "json"}, &out)
	require.NoError(t, err)
	defer closer.Close()

	logger.WithField("component", "capture").Debug("state change")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "state change", entry["msg"])
	assert.Equal(t, "capture", entry["component"])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigure_LevelFilters(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()

	_, err := Configure(logger, config.LogConfig{Level: "warn", Format: "text"}, &out)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestConfigure_File(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()
	path := filepath.Join(t.TempDir(), "pdscope.log")

	closer, err := Configure(logger, config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   config.LogFileConfig{Path: path, MaxSizeMB: 1},
	}, &out)
	require.NoError(t, err)

	logger.Info("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to both"))
	assert.Contains(t, out.String(), "to both")
}

func TestConfigure_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"level", config.LogConfig{Level: "loud", Format: "text"}},
		{"format", config.LogConfig{Level: "info", Format: "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closer, err := Configure(logrus.New(), tt.cfg, &bytes.Buffer{})
			assert.Error(t, err)
			assert.NotNil(t, closer)
		})
	}
}

func TestFor(t *testing.T) {
	assert.Equal(t, "link", For("link").Data["component"])
}
