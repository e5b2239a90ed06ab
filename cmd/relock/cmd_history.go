package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relock/internal/audit"
)

var historyLimit int

// historyCmd shows recent update runs from the audit store
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent lock update runs",
	Long: `Lists recent update runs recorded in the audit store, newest first.

Examples:
  relock history
  relock history -n 5`,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Audit.Enabled {
		fmt.Println("Auditing is disabled in the config.")
		return nil
	}

	store, err := audit.Open(cfg.Audit.DatabasePath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	runs, err := store.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No update runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		line := fmt.Sprintf("%s  %-14s %-7s %s",
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Outcome, run.Manager, run.PackageFile)
		if len(run.Packages) > 0 {
			line += "  [" + strings.Join(run.Packages, ", ") + "]"
		}
		if run.ChangedFiles > 0 {
			line += fmt.Sprintf("  (%d file(s) changed)", run.ChangedFiles)
		}
		fmt.Println(line)

		if run.Detail != "" {
			fmt.Printf("    %s\n", firstDetailLine(run.Detail))
		}
	}
	return nil
}

// firstDetailLine keeps multi-line tool output from flooding the list.
func firstDetailLine(detail string) string {
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		return detail[:i] + " ..."
	}
	return detail
}
