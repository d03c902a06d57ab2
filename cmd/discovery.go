// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/link"
)

var discoverProbe bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List snooper device pairs",
	Long: `List device nodes under --device-root whose names start with
--device-prefix, paired in sorted order. Each snooper contributes two
consecutive entries; which one is the shell is decided by probing.

For USB devices the serial number of both entries is shown, and pairs whose
entries report different serial numbers are flagged. Pairing itself is
always positional.

With --probe each pair is opened and its shell endpoint identified.

Examples:
  pdscope discover
  pdscope discover --device-root /dev/serial/by-id --device-prefix usb-Google --probe`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVar(&discoverProbe, "probe", false, "Open each pair and identify the shell endpoint")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	pairs, err := discoverPairs()
	if errors.Is(err, link.ErrOddCount) {
		fmt.Println(warnStyle.Render(err.Error()))
	} else if err != nil {
		return err
	}

	reports, err := link.CheckPairs(pairs)
	if err != nil {
		log.WithError(err).Warn("USB identity check unavailable")
		reports = make([]link.PairReport, len(pairs))
		for i, p := range pairs {
			reports[i] = link.PairReport{Pair: p}
		}
	}

	fmt.Printf("Found %d pair(s) in %s\n\n", len(pairs), cfg.Device.Root)
	for i, r := range reports {
		fmt.Printf("[%d] %s\n", i, r.Pair)
		printPort("A", r.Pair.A, r.A)
		printPort("B", r.Pair.B, r.B)
		if r.Mismatch {
			fmt.Printf("    %s\n", flagStyle.Render("entries belong to different USB devices"))
		}

		if discoverProbe {
			probePair(cmd, r.Pair)
		}
		fmt.Println()
	}
	return nil
}

func printPort(label, name string, info *link.PortInfo) {
	if info == nil || !info.IsUSB {
		fmt.Printf("    %s %s\n", label, name)
		return
	}
	fmt.Printf("    %s %s %s\n", label, name,
		dimStyle.Render(fmt.Sprintf("(USB %s:%s serial=%s %s)", info.VID, info.PID, info.SerialNumber, info.Product)))
}

// probePair opens a pair and reports which endpoint echoed the probe
func probePair(cmd *cobra.Command, pair link.Pair) {
	dev, err := link.Open(pair, link.SerialOpener(cfg.SerialOptions()))
	if err != nil {
		fmt.Printf("    %s %v\n", flagStyle.Render("open failed:"), err)
		return
	}
	roles, result := link.IdentifyRoles(cmd.Context(), dev, cfg.Device.ProbeTimeout)
	defer roles.Close()

	style := okStyle
	if result == link.ProbeGuessed {
		style = warnStyle
	}
	fmt.Printf("    shell=%s snooper=%s %s\n", roles.Shell.Name(), roles.Snooper.Name(), style.Render("("+result.String()+")"))
}
