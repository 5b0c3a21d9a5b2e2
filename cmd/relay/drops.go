package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	plog "badgeup.io/relay/internal/persistence/log"
)

func newDropsCommand(opts *RootOptions) *cobra.Command {
	var (
		dataDir string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "drops",
		Short: "Print envelopes that were never delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				dataDir = cfg.Data.Dir
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			n := 0
			return plog.ReadDrops(dataDir, func(r plog.DropRecord) error {
				if limit > 0 && n >= limit {
					return nil
				}
				n++
				if opts.Format == "json" {
					return enc.Encode(r)
				}
				line := fmt.Sprintf("%s %-15s %-18s %-12s %s %s",
					r.At.Format(time.RFC3339), r.Result, orDash(r.Code), r.Key, r.Subject, r.Error)
				_, err := fmt.Fprintln(out, strings.TrimRight(line, " "))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "data dir (default: data.dir from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many records (0 = all)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
