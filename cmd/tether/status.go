package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/journal"
)

func statusCmd() *cobra.Command {
	var limit int
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent sync activity from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			var entries []*journal.Entry
			if failedOnly {
				entries, err = j.Failures(limit)
			} else {
				entries, err = j.Recent(limit)
			}
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("no sync activity recorded")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-7s %-6s %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Kind, e.Outcome, e.RemotePath)
				if e.Error != "" {
					line += "  (" + e.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max entries to show")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only show failed operations")
	return cmd
}
