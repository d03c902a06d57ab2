// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/capture"
	"github.com/Thermoquad/pdscope/pkg/export"
	"github.com/Thermoquad/pdscope/pkg/snooper"
)

var (
	pcapOut    string
	cborOut    string
	fullRecord bool
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Convert a capture file to pcap or CBOR",
	Long: `Convert a capture file for use by other tools.

  --pcap out.pcap   pcap file with link type DLT_USER0 (147), one packet per
                    record carrying the PD message bytes (or the whole record
                    with --full-record). Timestamps start at the capture time
                    in the file name, one millisecond apart, or come from the
                    record stamps with --stamped.
  --cbor out.cbor   CBOR sequence of per-record summaries`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&pcapOut, "pcap", "", "Write a pcap file")
	exportCmd.Flags().StringVar(&cborOut, "cbor", "", "Write a CBOR summary sequence")
	exportCmd.Flags().BoolVar(&fullRecord, "full-record", false, "Write whole 512-byte records to pcap")
	exportCmd.Flags().BoolVar(&stamped, "stamped", false, "Sequence fields hold millisecond-of-month timestamps")
}

// captureTime recovers the session start time from a capture file name
func captureTime(path string) time.Time {
	name := filepath.Base(path)
	if t, err := time.ParseInLocation(capture.FileTimeLayout, name[:min(len(name), len(capture.FileTimeLayout))], time.Local); err == nil {
		return t
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}

func runExport(cmd *cobra.Command, args []string) error {
	if pcapOut == "" && cborOut == "" {
		return errors.New("nothing to do: give --pcap and/or --cbor")
	}

	var (
		pcapW *export.PCAPWriter
		cborE *export.CBOREncoder
		sinks []*bufferedFile
	)
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	if pcapOut != "" {
		s, err := createBuffered(pcapOut)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		pcapW, err = export.NewPCAPWriter(s.w, export.PCAPOptions{
			Base:       captureTime(args[0]),
			Stamped:    stamped,
			FullRecord: fullRecord,
		})
		if err != nil {
			return err
		}
	}
	if cborOut != "" {
		s, err := createBuffered(cborOut)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		cborE, err = export.NewCBOREncoder(s.w)
		if err != nil {
			return err
		}
	}

	count, err := forEachRecord(args[0], stamped, func(_ int, dp *snooper.DecodedPacket, _ error) error {
		if pcapW != nil {
			if err := pcapW.Write(dp); err != nil {
				return err
			}
		}
		if cborE != nil {
			if err := cborE.Encode(dp); err != nil {
				return fmt.Errorf("encode record %d: %w", dp.Packet.Sequence, err)
			}
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

	for _, s := range sinks {
		if err := s.Close(); err != nil {
			return err
		}
	}
	sinks = nil

	fmt.Printf("Exported %d records\n", count)
	return nil
}

// bufferedFile is an output file written through a buffer
type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func createBuffered(path string) (*bufferedFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &bufferedFile{f: f, w: bufio.NewWriter(f)}, nil
}

// Close flushes and closes the file
func (b *bufferedFile) Close() error {
	flushErr := b.w.Flush()
	closeErr := b.f.Close()
	return errors.Join(flushErr, closeErr)
}
