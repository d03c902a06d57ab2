// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a capture file for damaged and anomalous records",
	Long: `Verify the CRC of every record in a capture file and report anomalies.

This command validates each record and detects:
  - CRC mismatches between the stored and computed checksum
  - Frames flagged lost or partial by the snooper
  - data_len values larger than the record data field
  - Headers announcing more data objects than were captured
  - Reserved message types
  - Gaps in the record sequence numbers

By default, only damaged records are displayed. Use --show-all to display
valid records too. The command fails when any record is damaged.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	verifyCmd.Flags().BoolVar(&stamped, "stamped", false, "Sequence fields hold timestamps; skip CRC and gap checks")
}

func runVerify(cmd *cobra.Command, args []string) error {
	stats := snooper.NewStatistics()
	stats.TrackSequence(!stamped)

	fmt.Printf("pdscope - Verify %s\n\n", args[0])

	_, err := forEachRecord(args[0], stamped, func(index int, dp *snooper.DecodedPacket, checkErr error) error {
		anomalies := snooper.ValidatePacket(dp)
		stats.Update(dp, checkErr, anomalies)

		switch {
		case checkErr != nil:
			printChecksumError(index, dp, checkErr)
		case len(anomalies) > 0:
			fmt.Printf("#%d %s\n", index, renderPacket(dp, stamped))
			fmt.Print(renderAnomalies(anomalies))
		case showAll:
			fmt.Printf("#%d %s\n", index, renderPacket(dp, stamped))
		}
		return nil
	})
	if errors.Is(err, snooper.ErrTruncated) {
		stats.Update(nil, err, nil)
		fmt.Printf("%s %v\n", flagStyle.Render("DECODE ERROR:"), err)
		err = nil
	}
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(stats.String())

	snap := stats.Snapshot()
	if damaged := snap.CRCErrors + snap.DecodeErrors; damaged > 0 {
		return fmt.Errorf("%d of %d records damaged", damaged, snap.TotalPackets)
	}
	return nil
}

// printChecksumError prints a record that failed its CRC in highlighted format
func printChecksumError(index int, dp *snooper.DecodedPacket, err error) {
	fmt.Printf("#%d %s\n", index, renderPacket(dp, false))
	var ce *snooper.ChecksumError
	if errors.As(err, &ce) {
		fmt.Printf("  %s stored=0x%08x computed=0x%08x\n", flagStyle.Render("CRC MISMATCH:"), ce.Stored, ce.Computed)
	}
	fmt.Printf("  >>> RECORD DAMAGED <<<\n")
}
