// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/pdscope/pkg/catalog"
)

var sessionLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List recorded capture sessions",
	Long: `List capture sessions from the session catalog, newest first, or show
one session by ID. The catalog is written by capture and monitor when
catalog.path (--catalog) is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntVarP(&sessionLimit, "limit", "n", 20, "Maximum number of sessions to list (0 for all)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	if cfg.Catalog.Path == "" {
		return errors.New("no session catalog configured (set catalog.path or --catalog)")
	}
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer cat.Close()

	if len(args) == 1 {
		s, err := cat.Session(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSession(s)
		return nil
	}

	sessions, err := cat.ListSessions(cmd.Context(), sessionLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "STARTED", "DURATION", "RECORDS", "INVALID", "DROPPED", "FILE")
	for _, s := range sessions {
		t.Row(s.ID[:min(8, len(s.ID))],
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			sessionDuration(s),
			fmt.Sprintf("%d", s.Records),
			fmt.Sprintf("%d", s.Invalid),
			fmt.Sprintf("%d", s.Dropped),
			s.Path,
		)
	}
	fmt.Println(t.String())
	return nil
}

func sessionDuration(s catalog.Session) string {
	if s.Open() {
		return "open"
	}
	return s.Duration().Round(time.Millisecond).String()
}

func printSession(s catalog.Session) {
	fmt.Printf("Session:  %s\n", s.ID)
	fmt.Printf("File:     %s\n", s.Path)
	fmt.Printf("Shell:    %s\n", s.Shell)
	fmt.Printf("Snooper:  %s\n", s.Snooper)
	fmt.Printf("Started:  %s\n", s.StartedAt.Local().Format(time.RFC3339Nano))
	if !s.Open() {
		fmt.Printf("Ended:    %s\n", s.EndedAt.Local().Format(time.RFC3339Nano))
	}
	fmt.Printf("Duration: %s\n", sessionDuration(s))
	fmt.Printf("Records:  %d (%d invalid, %d dropped)\n", s.Records, s.Invalid, s.Dropped)
}
