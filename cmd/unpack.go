// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

var (
	showAll    bool
	showDetail bool
	stamped    bool
)

var unpackCmd = &cobra.Command{
	Use:   "unpack <file>",
	Short: "Display a capture file in human-readable format",
	Long: `Decode every record of a capture file and print one line per packet.

Each line shows the spec revision, sequence number, CC polarity, power and
data roles, message ID and name, SOP kind, raw header, data objects and
the record CRC. Records failing their CRC are shown with BAD_CRC.

GoodCRC acknowledgements are hidden unless --show-all is given. --detail
adds the analog snapshot, header fields and decoded power data objects
below each line. Use --stamped for files recorded with timestamps in place
of sequence numbers; their CRCs are not checked.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnpack,
}

func init() {
	rootCmd.AddCommand(unpackCmd)
	unpackCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets including GoodCRC")
	unpackCmd.Flags().BoolVar(&showDetail, "detail", false, "Show decoded fields below each packet")
	unpackCmd.Flags().BoolVar(&stamped, "stamped", false, "Sequence fields hold millisecond-of-month timestamps")
}

func runUnpack(cmd *cobra.Command, args []string) error {
	hidden := 0
	count, err := forEachRecord(args[0], stamped, func(_ int, dp *snooper.DecodedPacket, _ error) error {
		if !showAll && dp.HasMessage && dp.Header.IsGoodCRC() {
			hidden++
			return nil
		}
		fmt.Println(renderPacket(dp, stamped))
		if showDetail {
			fmt.Print(snooper.FormatDetail(dp))
		}
		return nil
	})
	if errors.Is(err, snooper.ErrTruncated) {
		log.WithError(err).Warn("capture file ends with a partial record")
		err = nil
	}
	if err != nil {
		return err
	}

	log.WithField("records", count).WithField("hidden", hidden).Debug("unpack complete")
	return nil
}
