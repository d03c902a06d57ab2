// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// pdscope - USB-PD Snooper Capture and Decode Tool
//
// A CLI tool for recording USB Power Delivery traffic from a Twinkie v2
// snooper and decoding the capture records in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/pdscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
