package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logsRepo string
var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent pipeline log entries",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsRepo, "repo", "", "Repository path (defaults to the current directory)")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum entries to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(logsRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ListLogs(logsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	// ListLogs returns newest first; print oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		level := e.Level
		if e.Level == "error" {
			level = color.RedString(e.Level)
		}
		fmt.Printf("%s  %-5s  %s  %s\n",
			e.Timestamp.Format("15:04:05"), level, e.Source, e.Message)
	}
	return nil
}
