// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging configures the process-wide logrus logger
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Thermoquad/pdscope/internal/config"
)

// Init configures the standard logrus logger from cfg. Logs always go to
// stderr; a rotating file is added when cfg.File.Path is set. The returned
// closer releases the file and is never nil.
func Init(cfg config.LogConfig) (io.Closer, error) {
	return Configure(logrus.StandardLogger(), cfg, os.Stderr)
}

// Configure applies cfg to logger, writing to out plus the optional file
func Configure(logger *logrus.Logger, cfg config.LogConfig, out io.Writer) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nopCloser{}, fmt.Errorf("invalid log level: %w", err)
	}

	var formatter logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{}
	case "text", "":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		return nopCloser{}, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	writer := out
	if cfg.File.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,  // megabytes
			MaxBackups: cfg.File.MaxBackups, // number of backups
			MaxAge:     cfg.File.MaxAgeDays, // days
			Compress:   cfg.File.Compress,
		}
		writer = io.MultiWriter(out, file)
		closer = file
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(writer)
	return closer, nil
}

// For returns a logger tagged with a component name
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
