// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/internal/logging"
	"github.com/Thermoquad/pdscope/pkg/capture"
	"github.com/Thermoquad/pdscope/pkg/catalog"
)

var autoStart bool

var captureCmd = &cobra.Command{
	Use:   "capture [dir]",
	Short: "Record snooper traffic to timestamped capture files",
	Long: `Run a capture session against a snooper device.

The device is opened, its shell and snooper endpoints are identified, and
stale bytes are flushed. Each recording session resets the snooper, waits
for it to settle, starts streaming and writes every 512-byte record to a
file named after the session start time (YYYY_MM_DD_HH_MM_SS.bin) in dir.

Signals:
  SIGUSR1          start a recording session, or stop the current one
  SIGUSR2          stop recording and exit
  SIGINT, SIGTERM  stop recording and exit

Use --auto-start to begin recording immediately and --live to print each
decoded packet as it is captured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start recording as soon as the device is ready")
	captureCmd.Flags().Bool("live", false, "Print decoded packets while capturing")
	captureCmd.Flags().String("overflow", "block", "Buffer overflow policy (block or drop)")
	captureCmd.Flags().Bool("stamp", false, "Overwrite record sequence numbers with millisecond-of-month timestamps")
	captureCmd.Flags().Int("slots", 20, "Capture buffer size in records")
	captureCmd.Flags().String("output-dir", ".", "Directory for capture files")
}

// openRecorder opens the session catalog when one is configured
func openRecorder() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return nil, nil
	}
	return catalog.Open(cfg.Catalog.Path)
}

func runCapture(cmd *cobra.Command, args []string) error {
	opts := cfg.CaptureOptions()
	if len(args) == 1 {
		opts.OutputDir = args[0]
	}
	opts.AutoStart = autoStart
	opts.Logger = logging.For("capture")

	cat, err := openRecorder()
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
		opts.Recorder = cat
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	device, err := OpenDevice(ctx)
	if err != nil {
		return err
	}

	live := newLivePrinter(cfg.Capture.Live, opts.Stamp)
	opts.Listener = live.handle

	fmt.Printf("pdscope - Capture\n")
	fmt.Printf("Connection: %s\n", device.info)
	fmt.Printf("Output: %s (overflow: %s)\n", opts.OutputDir, opts.Overflow)
	fmt.Printf("Send SIGUSR1 to start/stop recording, Ctrl+C to exit\n\n")

	p := device.pipeline(opts)

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, captureSignals...)
	defer signal.Stop(signals)

	go func() {
		for {
			select {
			case sig := <-signals:
				if isToggleSignal(sig) {
					p.Toggle()
					continue
				}
				log.WithField("signal", sig.String()).Info("shutting down")
				p.Shutdown()
			case <-p.Done():
				return
			}
		}
	}()

	err = p.Run(ctx)
	fmt.Println()
	fmt.Print(p.Stats().String())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// livePrinter turns pipeline events into terminal output. Events arrive
// from several pipeline goroutines.
type livePrinter struct {
	mu      sync.Mutex
	packets bool
	stamped bool
}

func newLivePrinter(packets, stamped bool) *livePrinter {
	return &livePrinter{packets: packets, stamped: stamped}
}

func (l *livePrinter) handle(ev capture.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case capture.EventSessionStarted:
		fmt.Println(okStyle.Render(fmt.Sprintf("● recording %s", ev.Session.Path)))
	case capture.EventSessionStopped:
		s := ev.Session
		fmt.Println(okStyle.Render(fmt.Sprintf("■ stopped %s: %d records, %d invalid, %d dropped in %s",
			s.Path, s.Records, s.Invalid, s.Dropped, s.Duration().Round(time.Millisecond))))
	case capture.EventOverflow:
		log.WithField("dropped", ev.Dropped).Warn("capture buffer overflow")
	case capture.EventShellError:
		log.WithError(ev.Err).Error("shell command failed")
	case capture.EventLinkError:
		log.WithError(ev.Err).Warn("snooper read failed")
	case capture.EventPacket, capture.EventInvalidPacket:
		if !l.packets || ev.Packet == nil {
			return
		}
		fmt.Println(renderPacket(ev.Packet, l.stamped))
		if len(ev.Anomalies) > 0 {
			fmt.Print(renderAnomalies(ev.Anomalies))
		}
		if ev.Err != nil && !l.stamped {
			log.WithFields(logrus.Fields{"seq": ev.Packet.Packet.Sequence}).WithError(ev.Err).Debug("invalid record")
		}
	}
}
