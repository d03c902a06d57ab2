// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link finds, opens and identifies the two serial endpoints of a
// USB-PD snooper: the command shell and the binary record stream.
package link

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultRoot is the directory searched for device nodes
	DefaultRoot = "/dev"

	// DefaultPrefix is the device node name prefix of a Twinkie v2
	DefaultPrefix = "twinkiev2-"
)

var (
	// ErrNotFound is returned when the device directory cannot be read
	ErrNotFound = errors.New("device directory not readable")

	// ErrOddCount is returned when matching entries cannot be paired
	ErrOddCount = errors.New("odd number of device entries")
)

var log = logrus.WithField("component", "link")

// Pair is two device entries assumed to belong to one snooper. Which one
// is the shell is not known until IdentifyRoles runs.
type Pair struct {
	A string
	B string
}

func (p Pair) String() string {
	return p.A + " + " + p.B
}

// PairNames sorts names and pairs consecutive entries. A trailing unpaired
// name yields ErrOddCount along with the pairs formed so far.
func PairNames(names []string) ([]Pair, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	pairs := make([]Pair, 0, len(sorted)/2)
	for i := 0; i+1 < len(sorted); i += 2 {
		pairs = append(pairs, Pair{A: sorted[i], B: sorted[i+1]})
	}
	if len(sorted)%2 != 0 {
		return pairs, fmt.Errorf("%w: %q has no partner", ErrOddCount, sorted[len(sorted)-1])
	}
	return pairs, nil
}

// Discover lists entries of root whose names start with prefix and pairs
// them positionally. Returned names are full paths.
func Discover(root, prefix string) ([]Pair, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, root, err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, filepath.Join(root, e.Name()))
		}
	}

	pairs, err := PairNames(names)
	log.WithFields(logrus.Fields{
		"root":    root,
		"prefix":  prefix,
		"entries": len(names),
		"pairs":   len(pairs),
	}).Debug("device discovery")
	return pairs, err
}

// PortInfo is the USB identity of a serial device
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// PairReport is the USB identity of both entries of a pair
type PairReport struct {
	Pair     Pair
	A        *PortInfo
	B        *PortInfo
	Mismatch bool
}

// CheckPairs looks up the USB serial number of each paired entry and flags
// pairs whose entries belong to different devices. It never re-pairs.
func CheckPairs(pairs []Pair) ([]PairReport, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return checkPairs(pairs, ports, filepath.EvalSymlinks), nil
}

func checkPairs(pairs []Pair, ports []PortInfo, resolve func(string) (string, error)) []PairReport {
	lookup := func(name string) *PortInfo {
		target := name
		if resolved, err := resolve(name); err == nil {
			target = resolved
		}
		for i := range ports {
			if ports[i].Name == name || ports[i].Name == target {
				return &ports[i]
			}
		}
		return nil
	}

	reports := make([]PairReport, 0, len(pairs))
	for _, p := range pairs {
		r := PairReport{Pair: p, A: lookup(p.A), B: lookup(p.B)}
		if r.A != nil && r.B != nil && r.A.SerialNumber != "" && r.B.SerialNumber != "" &&
			r.A.SerialNumber != r.B.SerialNumber {
			r.Mismatch = true
			log.WithFields(logrus.Fields{
				"a":        p.A,
				"a_serial": r.A.SerialNumber,
				"b":        p.B,
				"b_serial": r.B.SerialNumber,
			}).Warn("paired entries report different USB serial numbers")
		}
		reports = append(reports, r)
	}
	return reports
}
