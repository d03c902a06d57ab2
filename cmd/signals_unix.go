// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

var captureSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM}

func isToggleSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
