// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/pdscope/pkg/catalog"
	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

const (
	DefaultResetSettle   = time.Second
	DefaultStartupDelay  = 2 * time.Second
	DefaultShutdownGrace = time.Second
	DefaultMaxReadErrors = 5

	// FileTimeLayout names capture files after their start time
	FileTimeLayout = "2006_01_02_15_04_05"
)

// Recorder stores session lifecycles. *catalog.Catalog implements it.
type Recorder interface {
	StartSession(ctx context.Context, s catalog.Session) error
	EndSession(ctx context.Context, s catalog.Session) error
}

// Options configures a Pipeline. Durations are used as given; start from
// DefaultOptions for the reference timings.
type Options struct {
	OutputDir string
	Slots     int
	Overflow  OverflowPolicy

	// Stamp overwrites each record's sequence field with the
	// millisecond-of-month before it is written
	Stamp bool

	ReadTimeout   time.Duration
	ProbeTimeout  time.Duration
	ResetSettle   time.Duration
	StartupDelay  time.Duration
	ShutdownGrace time.Duration
	MaxReadErrors int

	// AutoStart opens a session as soon as the pipeline is ready
	AutoStart bool

	Now      func() time.Time
	Listener func(Event) // called synchronously from pipeline goroutines
	Recorder Recorder
	Logger   *logrus.Entry
}

// DefaultOptions returns the reference session timings
func DefaultOptions() Options {
	return Options{
		OutputDir:     ".",
		Slots:         stream.DefaultSlots,
		Overflow:      OverflowBlock,
		ReadTimeout:   link.DefaultReadTimeout,
		ProbeTimeout:  link.DefaultProbeTimeout,
		ResetSettle:   DefaultResetSettle,
		StartupDelay:  DefaultStartupDelay,
		ShutdownGrace: DefaultShutdownGrace,
		MaxReadErrors: DefaultMaxReadErrors,
	}
}

func (o Options) normalize() Options {
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.Slots <= 0 {
		o.Slots = stream.DefaultSlots
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = link.DefaultReadTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.MaxReadErrors <= 0 {
		o.MaxReadErrors = DefaultMaxReadErrors
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logrus.WithField("component", "capture")
	}
	return o
}
