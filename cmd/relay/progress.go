package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/relay"
)

func newProgressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <subject>",
		Short: "List a subject's achievement progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// One-shot query: nothing is dispatched, so nothing to journal.
			cfg.Data.DropJournal = false
			cfg.Data.OutcomeIndex = false

			rt, err := relay.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			entries, err := rt.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderProgress(cmd.OutOrStdout(), opts.Format, entries)
		},
	}
}

func renderProgress(w io.Writer, format string, entries []progress.Entry) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(relay.ProgressEntries(entries))
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no achievement progress")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%-11s %3d%%  %s\n", e.Status(), e.Percent(), e.Achievement.Name); err != nil {
			return err
		}
		if e.Achievement.Description != "" {
			if _, err := fmt.Fprintf(w, "                  %s\n", e.Achievement.Description); err != nil {
				return err
			}
		}
	}
	return nil
}
