// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/snooper"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test a device by waiting for a valid snooper record",
	Long: `Open the device, start the snooper and wait for a record that passes
its CRC check.

The shell is sent reset and start, and stop once the test ends. Records
failing their CRC are counted and skipped.

Exit codes:
  0 - Record received before timeout
  1 - Timeout reached without receiving a valid record
  2 - Connection error

Useful for testing connectivity to a snooper or a WebSocket bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a record")
}

func runProbe(cmd *cobra.Command, args []string) error {
	device, err := OpenDevice(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("pdscope - Probe\n")
	fmt.Printf("Connection: %s\n", device.info)

	roles, result := device.roles(cmd.Context())
	fmt.Printf("Shell: %s, Snooper: %s (%s)\n", roles.Shell.Name(), roles.Snooper.Name(), result)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid snooper record...\n\n")

	code := probeRecord(roles, time.Duration(probeTimeout)*time.Second)
	roles.Shell.Write([]byte("stop\n"))
	roles.Close()
	os.Exit(code)
	return nil
}

// probeRecord starts the snooper and waits for one valid record. It returns
// the process exit code.
func probeRecord(roles *link.RoledDevice, timeout time.Duration) int {
	if _, err := roles.Shell.Write([]byte("reset\n")); err != nil {
		fmt.Fprintf(os.Stderr, "Shell write error: %v\n", err)
		return 2
	}
	time.Sleep(cfg.Capture.ResetSettle)
	if _, err := roles.Shell.Write([]byte("start\n")); err != nil {
		fmt.Fprintf(os.Stderr, "Shell write error: %v\n", err)
		return 2
	}
	if err := roles.Snooper.SetReadTimeout(cfg.Device.ReadTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "Configure error: %v\n", err)
		return 2
	}

	// Channel for record reception
	recordChan := make(chan *snooper.DecodedPacket, 1)
	errChan := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	// Reader goroutine
	go func() {
		buf := stream.NewBuffer(stream.DefaultSlots)
		chunk := make([]byte, snooper.PacketSize)
		invalid := 0
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, err := roles.Snooper.Read(chunk)
			if err != nil {
				errChan <- err
				return
			}

			data := chunk[:n]
			for len(data) > 0 {
				used, err := buf.Push(data)
				data = data[used:]
				if err != nil && !errors.Is(err, stream.ErrOverflow) {
					errChan <- err
					return
				}

				for rec, ok := buf.Pop(); ok; rec, ok = buf.Pop() {
					dp, err := snooper.Decode(rec[:])
					if err != nil {
						// Ignore damaged records, just count them
						invalid++
						continue
					}
					if invalid > 0 {
						fmt.Printf("(skipped %d invalid records)\n", invalid)
					}
					recordChan <- dp
					return
				}
			}
		}
	}()

	// Wait for record or timeout
	select {
	case dp := <-recordChan:
		fmt.Printf("SUCCESS: Received valid record\n")
		fmt.Printf("  %s\n", renderPacket(dp, false))
		fmt.Print(snooper.FormatDetail(dp))
		return 0

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 2

	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid record received within %s\n", timeout)
		return 1
	}
}
