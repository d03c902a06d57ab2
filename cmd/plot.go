// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/export"
	"github.com/Thermoquad/pdscope/pkg/snooper"
)

var (
	pngOut  string
	htmlOut string
)

var plotCmd = &cobra.Command{
	Use:   "plot <file>",
	Short: "Plot VBUS voltage and current from a capture file",
	Long: `Plot the VBUS snapshot carried by every record of a capture file.

  --png out.png     static chart (the extension picks the format: png, svg, pdf)
  --html out.html   interactive chart with zoom

Records failing their CRC are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlot,
}

func init() {
	rootCmd.AddCommand(plotCmd)
	plotCmd.Flags().StringVar(&pngOut, "png", "", "Write a static chart")
	plotCmd.Flags().StringVar(&htmlOut, "html", "", "Write an interactive HTML chart")
	plotCmd.Flags().BoolVar(&stamped, "stamped", false, "Sequence fields hold millisecond-of-month timestamps")
}

func runPlot(cmd *cobra.Command, args []string) error {
	if pngOut == "" && htmlOut == "" {
		return errors.New("nothing to do: give --png and/or --html")
	}

	var samples []export.Sample
	skipped := 0
	_, err := forEachRecord(args[0], stamped, func(index int, dp *snooper.DecodedPacket, checkErr error) error {
		if checkErr != nil {
			skipped++
			return nil
		}
		samples = append(samples, export.SampleOf(index, dp))
		return nil
	})
	if errors.Is(err, snooper.ErrTruncated) {
		log.WithError(err).Warn("capture file ends with a partial record")
		err = nil
	}
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("records with bad CRC left out of the plot")
	}

	title := "VBUS - " + filepath.Base(args[0])
	if pngOut != "" {
		if err := export.PlotVBUS(samples, title, pngOut); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", pngOut)
	}
	if htmlOut != "" {
		f, err := createBuffered(htmlOut)
		if err != nil {
			return err
		}
		renderErr := export.RenderVBUSChart(samples, title, f.w)
		if err := errors.Join(renderErr, f.Close()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", htmlOut)
	}
	return nil
}
