// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
)

var captureSignals = []os.Signal{os.Interrupt}

func isToggleSignal(os.Signal) bool {
	return false
}
