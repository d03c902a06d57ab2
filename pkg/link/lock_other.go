// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package link

import "io"

type noLock struct{}

func (noLock) Close() error { return nil }

// lockDevice is a no-op where flock is unavailable; the serial driver's
// own exclusive open still reports busy ports.
func lockDevice(string) (io.Closer, error) {
	return noLock{}, nil
}
