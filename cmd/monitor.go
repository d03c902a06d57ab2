// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/internal/logging"
	"github.com/Thermoquad/pdscope/pkg/capture"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [dir]",
	Short: "Live terminal view of snooper traffic with recording control",
	Long: `Show decoded packets and statistics in a terminal UI.

The device is opened and captured exactly as with the capture command.
Press space to start or stop a recording session and q to quit. Log
output is suppressed on the terminal while the UI runs; configure
log.file.path to keep it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start recording as soon as the device is ready")
	monitorCmd.Flags().String("overflow", "block", "Buffer overflow policy (block or drop)")
	monitorCmd.Flags().Bool("stamp", false, "Overwrite record sequence numbers with millisecond-of-month timestamps")
	monitorCmd.Flags().String("output-dir", ".", "Directory for capture files")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	// Keep the terminal for the UI; the log file, if any, still gets entries
	closer, err := logging.Configure(logrus.StandardLogger(), cfg.Log, io.Discard)
	if err != nil {
		device.Close()
		return err
	}
	if logCloser != nil {
		logCloser.Close()
	}
	logCloser = closer

	var prog *tea.Program
	opts.Listener = func(ev capture.Event) {
		prog.Send(pipelineEventMsg(ev))
	}
	p := device.pipeline(opts)
	prog = tea.NewProgram(newMonitorModel(p, device.info, opts.Stamp))

	go func() {
		err := p.Run(ctx)
		prog.Send(pipelineDoneMsg{err: err})
	}()

	final, err := prog.Run()
	if err != nil {
		p.Shutdown()
		<-p.Done()
		return fmt.Errorf("TUI error: %w", err)
	}

	fmt.Print(p.Stats().String())
	if m, ok := final.(monitorModel); ok && m.err != nil && !errors.Is(m.err, context.Canceled) {
		return m.err
	}
	return nil
}
