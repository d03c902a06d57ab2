// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultProbeTimeout bounds how long IdentifyRoles waits for an echo
const DefaultProbeTimeout = 500 * time.Millisecond

// Device is an opened pair whose roles are not yet known
type Device struct {
	A Endpoint
	B Endpoint
}

// Open opens both entries of a pair. If the second open fails the first
// endpoint is closed again.
func Open(pair Pair, open OpenFunc) (*Device, error) {
	a, err := open(pair.A)
	if err != nil {
		return nil, err
	}
	b, err := open(pair.B)
	if err != nil {
		a.Close()
		return nil, err
	}
	return &Device{A: a, B: b}, nil
}

// Close closes both endpoints
func (d *Device) Close() error {
	return errors.Join(d.A.Close(), d.B.Close())
}

// RoledDevice is a device whose shell and snooper endpoints are known
type RoledDevice struct {
	Shell   Endpoint
	Snooper Endpoint

	closeOnce sync.Once
	closeErr  error
}

// Close closes both endpoints once
func (r *RoledDevice) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Join(r.Shell.Close(), r.Snooper.Close())
	})
	return r.closeErr
}

// ProbeResult reports how roles were assigned
type ProbeResult int

const (
	ProbeEchoA   ProbeResult = iota // A echoed the probe and is the shell
	ProbeEchoB                      // B echoed the probe and is the shell
	ProbeGuessed                    // neither echoed; A assumed to be the shell
)

func (p ProbeResult) String() string {
	switch p {
	case ProbeEchoA:
		return "echo on A"
	case ProbeEchoB:
		return "echo on B"
	case ProbeGuessed:
		return "guessed"
	default:
		return fmt.Sprintf("probe(%d)", int(p))
	}
}

// probeBytes is written to a candidate shell; the shell echoes input
var probeBytes = []byte("\r\n")

// IdentifyRoles decides which endpoint is the shell by writing a line
// ending and waiting up to timeout for any reply. A is probed first. When
// neither endpoint replies, A is assumed to be the shell and the result is
// ProbeGuessed.
func IdentifyRoles(ctx context.Context, dev *Device, timeout time.Duration) (*RoledDevice, ProbeResult) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	if echoes(ctx, dev.A, timeout) {
		return &RoledDevice{Shell: dev.A, Snooper: dev.B}, ProbeEchoA
	}
	if echoes(ctx, dev.B, timeout) {
		return &RoledDevice{Shell: dev.B, Snooper: dev.A}, ProbeEchoB
	}

	log.WithFields(logrus.Fields{
		"a": dev.A.Name(),
		"b": dev.B.Name(),
	}).Warn("no endpoint echoed the probe; assuming the first is the shell")
	return &RoledDevice{Shell: dev.A, Snooper: dev.B}, ProbeGuessed
}

// echoes writes the probe to ep and reports whether any byte came back
// before the deadline. Write failures count as no echo.
func echoes(ctx context.Context, ep Endpoint, timeout time.Duration) bool {
	entry := log.WithField("endpoint", ep.Name())

	if _, err := ep.Write(probeBytes); err != nil {
		entry.WithError(err).Warn("probe write failed")
		return false
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return false
		}
		if err := ep.SetReadTimeout(remaining); err != nil {
			entry.WithError(err).Debug("set read timeout failed")
		}
		n, err := ep.Read(buf)
		if n > 0 {
			entry.WithField("bytes", n).Debug("probe echoed")
			return true
		}
		if err != nil {
			entry.WithError(err).Debug("probe read failed")
			return false
		}
	}
}
