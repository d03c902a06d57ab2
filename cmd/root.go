// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/internal/config"
	"github.com/Thermoquad/pdscope/internal/logging"
)

var (
	configPath string
	pairIndex  int

	// Loaded by PersistentPreRunE
	cfg       *config.Config
	logCloser io.Closer
)

var log = logging.For("cmd")

var rootCmd = &cobra.Command{
	Use:   "pdscope",
	Short: "USB-PD Snooper Capture and Decode Tool",
	Long: `pdscope - capture and decode USB Power Delivery traffic from a Twinkie v2 snooper.

The snooper enumerates as two serial devices: a shell that accepts reset,
start and stop commands, and a snooper endpoint that streams fixed-size
512-byte capture records. pdscope discovers the pair, works out which
endpoint is which, records captures to timestamped files and decodes them.

Connection modes:
  Serial:    discovered under --device-root with --device-prefix [--pair N]
  WebSocket: --shell-url ws://host/shell --snooper-url ws://host/snooper [--username user]

For WebSocket authentication, the password is read from the PDSCOPE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings can also come from a YAML file (--config, or pdscope.yaml in
~/.config/pdscope or the working directory) and PDSCOPE_* environment
variables such as PDSCOPE_CAPTURE_OVERFLOW=drop.`,
	Version:      "1.0.0",
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded

		closer, err := logging.Init(cfg.Log)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default: search for pdscope.yaml)")

	// Logging
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")

	// Serial discovery
	flags.String("device-root", "/dev", "Directory searched for snooper device nodes")
	flags.String("device-prefix", "twinkiev2-", "Device node name prefix")
	flags.IntVar(&pairIndex, "pair", 0, "Index of the discovered device pair to use")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket bridge
	flags.String("shell-url", "", "WebSocket URL of the shell endpoint (ws:// or wss://)")
	flags.String("snooper-url", "", "WebSocket URL of the snooper endpoint (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session catalog
	flags.String("catalog", "", "SQLite session catalog path (empty disables it)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
