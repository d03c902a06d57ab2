// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/pdscope/pkg/capture"
	"github.com/Thermoquad/pdscope/pkg/link"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("PDSCOPE_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// openedDevice is an opened endpoint pair. Over the bridge the roles are
// given by the URLs; discovered serial pairs still need probing.
type openedDevice struct {
	dev        *link.Device
	rolesKnown bool
	info       string
}

// Close releases both endpoints
func (o *openedDevice) Close() error {
	return o.dev.Close()
}

// roles returns the shell and snooper endpoints, probing when needed
func (o *openedDevice) roles(ctx context.Context) (*link.RoledDevice, link.ProbeResult) {
	if o.rolesKnown {
		return &link.RoledDevice{Shell: o.dev.A, Snooper: o.dev.B}, link.ProbeEchoA
	}
	return link.IdentifyRoles(ctx, o.dev, cfg.Device.ProbeTimeout)
}

// pipeline builds a capture pipeline that owns the device
func (o *openedDevice) pipeline(opts capture.Options) *capture.Pipeline {
	if o.rolesKnown {
		return capture.NewFromRoles(&link.RoledDevice{Shell: o.dev.A, Snooper: o.dev.B}, opts)
	}
	return capture.New(o.dev, opts)
}

// discoverPairs lists device pairs under the configured root
func discoverPairs() ([]link.Pair, error) {
	pairs, err := link.Discover(cfg.Device.Root, cfg.Device.Prefix)
	if err != nil {
		return pairs, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no %s* entries in %s", link.ErrNotFound, cfg.Device.Prefix, cfg.Device.Root)
	}
	return pairs, nil
}

// OpenDevice opens either the WebSocket bridge or a discovered serial
// pair based on configuration
func OpenDevice(ctx context.Context) (*openedDevice, error) {
	if cfg.Bridge.Enabled() {
		// WebSocket mode
		password := ""
		if cfg.Bridge.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		opener := link.WebSocketOpener(ctx, link.BridgeOptions{
			Username:      cfg.Bridge.Username,
			Password:      password,
			SkipSSLVerify: cfg.Bridge.NoSSLVerify,
			ReadTimeout:   cfg.Device.ReadTimeout,
		})
		dev, err := link.Open(link.Pair{A: cfg.Bridge.ShellURL, B: cfg.Bridge.SnooperURL}, opener)
		if err != nil {
			return nil, err
		}
		return &openedDevice{
			dev:        dev,
			rolesKnown: true,
			info:       fmt.Sprintf("WebSocket: shell %s, snooper %s", cfg.Bridge.ShellURL, cfg.Bridge.SnooperURL),
		}, nil
	}

	// Serial mode
	pairs, err := discoverPairs()
	if err != nil {
		return nil, err
	}
	if pairIndex < 0 || pairIndex >= len(pairs) {
		return nil, fmt.Errorf("pair %d out of range: %d pair(s) discovered", pairIndex, len(pairs))
	}
	pair := pairs[pairIndex]
	if len(pairs) > 1 {
		log.WithField("pairs", len(pairs)).Infof("multiple devices found; using pair %d (%s)", pairIndex, pair)
	}
	if _, err := link.CheckPairs([]link.Pair{pair}); err != nil {
		log.WithError(err).Debug("USB identity check unavailable")
	}

	dev, err := link.Open(pair, link.SerialOpener(cfg.SerialOptions()))
	if err != nil {
		return nil, err
	}
	return &openedDevice{
		dev:  dev,
		info: fmt.Sprintf("Serial: %s @ %d baud", pair, cfg.Device.Baud),
	}, nil
}
